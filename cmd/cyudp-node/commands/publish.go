package commands

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/cyphal-go/udptransport/internal/cyphal"
	"github.com/cyphal-go/udptransport/internal/transport"
)

var publishInterval time.Duration

func publishCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish <subject-id> <message>",
		Short: "Publish a message subject on an interval",
		Args:  cobra.ExactArgs(2),
		RunE:  runPublish,
	}
	cmd.Flags().DurationVar(&publishInterval, "interval", time.Second, "time between publications")
	return cmd
}

func runPublish(cmd *cobra.Command, args []string) error {
	subjectID, err := strconv.ParseUint(args[0], 10, 16)
	if err != nil {
		return fmt.Errorf("parse subject-id: %w", err)
	}
	message := args[1]

	spec := transport.Specifier{
		Data: transport.DataSpecifier{Kind: transport.Message, ID: uint16(subjectID)},
	}

	var out *transport.OutputSession
	var lastSent time.Time
	var transferID uint64

	return runNode(cmd, runOptions{
		setup: func(c *transport.Coordinator, logger *slog.Logger) error {
			session, st := c.GetOutputSession(spec)
			if !st.OK() {
				return fmt.Errorf("get output session: %s", st.Error())
			}
			out = session
			return nil
		},
		tick: func(c *transport.Coordinator, now time.Time, logger *slog.Logger) bool {
			if now.Sub(lastSent) < publishInterval {
				return false
			}
			lastSent = now
			deadline := now.Add(publishInterval)
			if st := out.Send([]byte(message), cyphal.Nominal, deadline); !st.OK() {
				logger.Warn("publish failed", "status", st.Error())
				return false
			}
			logger.Info("published", "subject_id", subjectID, "transfer_id", transferID)
			transferID++
			return false
		},
	})
}
