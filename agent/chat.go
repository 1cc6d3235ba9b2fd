package agent

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
)

// ChatLoop reads queries from in, one per line, and writes the answers to out.
// The loop ends on "exit" or at the end of input. A failed query is printed
// and does not end the loop.
func (a *Agent) ChatLoop(ctx context.Context, in io.Reader, out io.Writer) error {
	fmt.Fprint(out, "\nMCP Client Started! Type 'exit' to quit.\n")

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Fprint(out, "\nEnter your query: ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return errors.Wrap(err, "failed to read query")
			}
			fmt.Fprintln(out)
			return nil
		}

		query := strings.TrimSpace(scanner.Text())
		if strings.EqualFold(query, "exit") {
			fmt.Fprintln(out, "Exiting chat loop.")
			return nil
		}
		if query == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return errors.WithStack(err)
		}

		turn, err := a.ProcessQuery(ctx, query)
		if err != nil {
			fmt.Fprintf(out, "\nError: %s\n", err.Error())
			continue
		}
		fmt.Fprintf(out, "\nResponse: %s\n\n", turn.Answer)
	}
}
