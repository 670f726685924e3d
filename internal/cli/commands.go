package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	citydistance "gitlab.citydrive.tech/back-end/go/pkg/citydistance-client"
)

func (c *CLI) suggestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "suggest <query>",
		Short: "Suggest cities by name prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.newClient()
			if err != nil {
				return err
			}
			defer client.Close()

			list, err := client.GetSuggestions(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if c.jsonOutput() {
				return c.writeJSON(list)
			}

			tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			for _, s := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.ID, s.Name, s.AdminRegion, s.Country)
			}
			return tw.Flush()
		},
	}
}

// distanceOutput результат команды distance в формате json
type distanceOutput struct {
	City1      string          `json:"city1"`
	City2      string          `json:"city2"`
	DistanceKm *float64        `json:"distanceKm,omitempty"`
	Raw        json.RawMessage `json:"raw,omitempty"`
	Shape      string          `json:"shape"`
}

func (c *CLI) distanceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "distance <city1-id> <city2-id>",
		Short: "Calculate distance between two cities",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.newClient()
			if err != nil {
				return err
			}
			defer client.Close()

			res, err := client.CalculateDistance(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}

			if c.jsonOutput() {
				out := distanceOutput{City1: args[0], City2: args[1], Shape: string(res.Shape)}
				if res.Numeric {
					out.DistanceKm = &res.Kilometers
				} else {
					out.Raw = res.Raw
				}
				return c.writeJSON(out)
			}

			if !res.Numeric {
				_, err = fmt.Fprintln(c.out, string(res.Raw))
				return err
			}
			_, err = fmt.Fprintf(c.out, "%s km\n", strconv.FormatFloat(res.Kilometers, 'f', -1, 64))
			return err
		},
	}
}

func (c *CLI) healthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check service availability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := c.newClient()
			if err != nil {
				return err
			}
			defer client.Close()

			healthy := client.HealthCheck(cmd.Context())

			if c.jsonOutput() {
				if err := c.writeJSON(map[string]bool{"healthy": healthy}); err != nil {
					return err
				}
			} else {
				status := "healthy"
				if !healthy {
					status = "unhealthy"
				}
				fmt.Fprintln(c.out, status)
			}

			if !healthy {
				return ErrUnhealthy
			}
			return nil
		},
	}
}

func (c *CLI) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print service version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := c.newClient()
			if err != nil {
				return err
			}
			defer client.Close()

			v, err := client.GetVersion(cmd.Context())
			if err != nil {
				return err
			}

			if c.jsonOutput() {
				return c.writeJSON(map[string]string{"version": v})
			}
			_, err = fmt.Fprintln(c.out, v)
			return err
		},
	}
}

func (c *CLI) writeJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ErrorMessage возвращает текст ошибки для пользователя.
func ErrorMessage(err error) string {
	if ce, ok := citydistance.AsClientError(err); ok {
		if ce.HasStatusCode() {
			return fmt.Sprintf("%s (status %d)", ce.Message, ce.StatusCode)
		}
		return ce.Message
	}
	return err.Error()
}
