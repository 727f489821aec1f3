package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/florianilch/composr-connector/internal/dispatch"
	"github.com/florianilch/composr-connector/internal/transport"
)

func requestCommand() *cli.Command {
	return &cli.Command{
		Name:      "request",
		Usage:     "send an authenticated API request",
		ArgsUsage: "<method> <endpoint name or path>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "data",
				Aliases: []string{"d"},
				Usage:   "JSON request body",
			},
			&cli.StringSliceFlag{
				Name:    "param",
				Aliases: []string{"p"},
				Usage:   "query parameter as key=value (repeatable)",
			},
			&cli.StringSliceFlag{
				Name:    "header",
				Aliases: []string{"H"},
				Usage:   "extra header as key=value (repeatable)",
			},
			&cli.BoolFlag{
				Name:  "no-retry",
				Usage: "do not refresh and resend on 401",
			},
		},
		Action: requestAction,
	}
}

func requestAction(ctx context.Context, cmd *cli.Command) error {
	spec, err := buildRequestSpec(cmd.Args().Slice(), cmd.String("data"), cmd.StringSlice("param"), cmd.StringSlice("header"))
	if err != nil {
		return err
	}

	application, cleanup, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	resp, err := application.Dispatcher().Dispatch(ctx, spec, !cmd.Bool("no-retry"))
	if err != nil {
		var statusErr *transport.StatusError
		if errors.As(err, &statusErr) && len(statusErr.Body) > 0 {
			_, _ = fmt.Fprintln(cmd.Root().ErrWriter, string(statusErr.Body))
		}
		return fmt.Errorf("request failed: %w", err)
	}

	_, err = fmt.Fprintln(cmd.Root().Writer, string(resp.Body))
	return err
}

func buildRequestSpec(args []string, data string, params, headers []string) (dispatch.RequestSpec, error) {
	if len(args) != 2 {
		return dispatch.RequestSpec{}, fmt.Errorf("expected <method> <endpoint>, got %d arguments", len(args))
	}

	spec := dispatch.RequestSpec{
		Method:   strings.ToUpper(args[0]),
		Endpoint: args[1],
	}

	if data != "" {
		if !json.Valid([]byte(data)) {
			return dispatch.RequestSpec{}, fmt.Errorf("--data is not valid JSON")
		}
		spec.Data = json.RawMessage(data)
	}

	if len(params) > 0 {
		spec.Params = url.Values{}
		for _, p := range params {
			key, value, ok := strings.Cut(p, "=")
			if !ok {
				return dispatch.RequestSpec{}, fmt.Errorf("invalid param %q, expected key=value", p)
			}
			spec.Params.Add(key, value)
		}
	}

	if len(headers) > 0 {
		spec.HeadersExtension = make(map[string]string, len(headers))
		for _, h := range headers {
			key, value, ok := strings.Cut(h, "=")
			if !ok {
				return dispatch.RequestSpec{}, fmt.Errorf("invalid header %q, expected key=value", h)
			}
			spec.HeadersExtension[key] = value
		}
	}

	return spec, nil
}

func outputFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "output",
		Aliases: []string{"o"},
		Usage:   "output format (json|yaml)",
		Value:   "json",
	}
}

// writeOutput renders v as indented JSON or YAML.
func writeOutput(w io.Writer, format string, v any) error {
	switch format {
	case "", "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}
