package cmd

import (
	"github.com/spf13/cobra"

	"github.com/gcpkit/gcpkit/internal/output"
	"github.com/gcpkit/gcpkit/pubsub"
)

var pubsubPullMax int64

var pubsubCmd = &cobra.Command{
	Use:   "pubsub",
	Short: "Pub/Sub topics and subscriptions",
}

var pubsubPublishCmd = &cobra.Command{
	Use:     "publish <topic> <message>",
	Short:   "Publish a message to a topic",
	Example: `  - gcpkit pubsub publish orders '{"order_id": "o-42"}'`,
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		client, err := pubsub.NewClient(ctx, settings)
		if err != nil {
			return err
		}
		messageID, err := client.Publish(ctx, args[0], []byte(args[1]), nil, "")
		if err != nil {
			return err
		}
		output.Success("Published message %s to %s", messageID, args[0])
		return nil
	},
}

var pubsubPullCmd = &cobra.Command{
	Use:     "pull <subscription>",
	Short:   "Pull and acknowledge messages from a subscription",
	Example: `  - gcpkit pubsub pull orders-worker --max 5`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		client, err := pubsub.NewClient(ctx, settings)
		if err != nil {
			return err
		}

		messages, err := client.Pull(ctx, args[0], pubsubPullMax, true)
		if err != nil {
			return err
		}
		if len(messages) == 0 {
			output.Info("No messages available")
			return nil
		}

		ackIDs := make([]string, 0, len(messages))
		for _, m := range messages {
			output.KeyValue(m.MessageID, string(m.Data))
			ackIDs = append(ackIDs, m.AckID)
		}
		if err := client.Acknowledge(ctx, args[0], ackIDs); err != nil {
			return err
		}
		output.Success("Pulled and acknowledged %d messages", len(messages))
		return nil
	},
}

func init() {
	pubsubPullCmd.Flags().Int64Var(&pubsubPullMax, "max", 10, "maximum messages to pull")
	pubsubCmd.AddCommand(pubsubPublishCmd)
	pubsubCmd.AddCommand(pubsubPullCmd)
	rootCmd.AddCommand(pubsubCmd)
}
