package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lanwire/lanchat/internal/protocol"
	"github.com/lanwire/lanchat/internal/transport"
)

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "Prints the broker's room directory and exits",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout, _ := cmd.Flags().GetDuration("timeout")

		client := transport.New(viper.GetString(serverURLKey), "")
		defer client.Close()
		client.Connect()

		deadline := time.After(timeout)
		for {
			select {
			case ev := <-client.Events():
				msg, ok := ev.(transport.MessageEvent)
				if !ok || msg.Envelope.Type != protocol.KindRoomList {
					continue
				}
				if len(msg.Envelope.Rooms) == 0 {
					fmt.Println("no rooms")
					return nil
				}
				for _, room := range msg.Envelope.Rooms {
					fmt.Printf("%-12s %d\n", room.Name, room.Count)
				}
				return nil
			case <-deadline:
				return fmt.Errorf("no room directory received within %s", timeout)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(roomsCmd)
	roomsCmd.Flags().Duration("timeout", 5*time.Second, "how long to wait for the directory")
}
