package main

import (
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/dmitrymomot/mailkit"
)

const previewRecipient = "preview@example.com"

func newPreviewCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Serve rendered previews of the test message and every markdown view",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			m, err := rt.newManager()
			if err != nil {
				return err
			}

			previews, err := viewPreviews(rt.viewsDir)
			if err != nil {
				return err
			}
			previews["test"] = func() mailkit.Mailable {
				return testMail(previewRecipient, "Test message")
			}

			r := chi.NewRouter()
			r.Use(middleware.Logger, middleware.Recoverer)
			r.Mount("/", mailkit.PreviewHandler(m, previews))

			_, _ = fmt.Fprintf(rt.writer, "serving %d previews on %s\n", len(previews), addr)
			return mailkit.Run(
				mailkit.Address(addr),
				mailkit.Handler(r),
				mailkit.Logger(rt.log),
				mailkit.BaseContext(cmd.Context()),
				mailkit.ShutdownTimeout(5*time.Second),
			)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8025", "Listen address")

	return cmd
}

// viewPreviews returns one preview per top-level markdown view in dir, keyed by file name without extension.
func viewPreviews(dir string) (mailkit.Previews, error) {
	previews := mailkit.Previews{}
	if dir == "" {
		return previews, nil
	}
	names, err := fs.Glob(os.DirFS(dir), "*.md")
	if err != nil {
		return nil, fmt.Errorf("list views: %w", err)
	}
	for _, name := range names {
		previews[strings.TrimSuffix(name, ".md")] = func() mailkit.Mailable {
			return mailkit.NewMail().To(previewRecipient).Markdown(name)
		}
	}
	return previews, nil
}

func testMail(to, subject string) *mailkit.Mail {
	sent := time.Now().UTC().Format(time.RFC1123)
	return mailkit.NewMail().
		To(to).
		Subject(subject).
		Tag("test").
		HTML("<p>This is a test message from mailworker.</p><p>Sent " + sent + ".</p>").
		Text("This is a test message from mailworker.\n\nSent " + sent + ".\n")
}
