package cli

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lanwire/lanchat/internal/protocol"
	"github.com/lanwire/lanchat/internal/transport"
)

var chatCmd = &cobra.Command{
	Use:   "chat [room]",
	Short: "Opens the chat interface, optionally joining a room",
	Long: `Opens the terminal chat interface. With a room argument the client
joins that room immediately; without one it sits in the room directory
until you /join or /create a room.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := viper.GetString(usernameKey)
		if name != "" && !protocol.ValidName(name) {
			return fmt.Errorf("invalid display name %q: use 1-10 letters, digits, _, - or CJK", name)
		}

		room := ""
		if len(args) == 1 {
			room = args[0]
		}
		client := transport.New(viper.GetString(serverURLKey), name)
		return runChatUI(client, room)
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChatUI(client *transport.Client, room string) error {
	app := tview.NewApplication()

	chatView := tview.NewTextView().
		SetDynamicColors(true).
		SetWordWrap(true).
		SetScrollable(true).
		ScrollToEnd()
	chatView.SetBorder(true).SetTitle(" lanchat ")

	roomsView := tview.NewTextView().
		SetDynamicColors(true)
	roomsView.SetBorder(true).SetTitle(" rooms ")

	label := "❯❯ "
	if name := client.Name(); name != "" {
		label = name + " ❯❯ "
	}
	inputField := tview.NewInputField().
		SetLabel(label).
		SetFieldWidth(0)

	left := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(chatView, 0, 1, false).
		AddItem(inputField, 1, 0, true)

	flex := tview.NewFlex().
		AddItem(left, 0, 1, true).
		AddItem(roomsView, 26, 0, false)

	app.SetRoot(flex, true).SetFocus(inputField)

	client.Connect()
	if room != "" {
		if err := client.JoinRoom(room); err != nil {
			return err
		}
	}
	fmt.Fprintln(chatView, "[grey]/join <room>  /create <room>  /name <name>  /file <path>  /leave  /quit")

	go func() {
		for ev := range client.Events() {
			app.QueueUpdateDraw(func() {
				renderEvent(chatView, roomsView, ev)
				chatView.ScrollToEnd()
			})
		}
	}()

	inputField.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		line := strings.TrimSpace(inputField.GetText())
		inputField.SetText("")
		if line == "" {
			return
		}

		if strings.HasPrefix(line, "/") {
			if quit := runCommand(client, chatView, inputField, line); quit {
				client.Close()
				app.Stop()
			}
			return
		}
		if err := client.SendText(line); err != nil {
			fmt.Fprintf(chatView, "[red]send failed: %v\n", err)
		}
	})

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyCtrlC {
			client.Close()
			app.Stop()
			return nil
		}
		return event
	})

	return app.Run()
}

// runCommand handles one slash command and reports whether the app should
// exit.
func runCommand(client *transport.Client, chatView *tview.TextView, inputField *tview.InputField, line string) bool {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	var err error
	switch cmd {
	case "/quit", "/exit":
		return true
	case "/join":
		err = client.JoinRoom(arg)
	case "/create":
		err = client.CreateRoom(arg)
	case "/leave":
		client.LeaveRoom()
		fmt.Fprintln(chatView, "[grey]left the room")
	case "/name":
		if err = client.Rename(arg); err == nil {
			inputField.SetLabel(arg + " ❯❯ ")
		}
	case "/file":
		err = sendFile(client, arg)
	default:
		err = fmt.Errorf("unknown command %s", cmd)
	}
	if err != nil {
		fmt.Fprintf(chatView, "[red]%v\n", err)
	}
	return false
}

func sendFile(client *transport.Client, path string) error {
	if path == "" {
		return fmt.Errorf("usage: /file <path>")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return client.SendFile(filepath.Base(path), mimeType, data)
}

func renderEvent(chatView, roomsView *tview.TextView, ev transport.Event) {
	switch ev := ev.(type) {
	case transport.ConnectionEvent:
		renderConnection(chatView, ev)
	case transport.MessageEvent:
		renderEnvelope(chatView, roomsView, ev.Envelope)
	case transport.SendFailEvent:
		fmt.Fprintf(chatView, "[red]%s send failed on %s: %v\n", ev.Kind, ev.Scope, ev.Err)
	}
}

func renderConnection(chatView *tview.TextView, ev transport.ConnectionEvent) {
	switch ev.State {
	case transport.StateOpen:
		fmt.Fprintf(chatView, "[green]%s connected\n", ev.Scope)
	case transport.StateReconnecting:
		fmt.Fprintf(chatView, "[yellow]%s disconnected, retrying in %s\n", ev.Scope, ev.Delay)
	default:
		fmt.Fprintf(chatView, "[grey]%s %s\n", ev.Scope, ev.State)
	}
}

func renderEnvelope(chatView, roomsView *tview.TextView, env *protocol.Envelope) {
	switch env.Type {
	case protocol.KindText:
		fmt.Fprintf(chatView, "[white][%s] [blue]%s[white]: %s\n",
			stamp(env.TS), env.Username, tview.Escape(env.Text))
	case protocol.KindFile:
		fmt.Fprintf(chatView, "[white][%s] [blue]%s[white] sent %s (%s, %d bytes)\n",
			stamp(env.TS), env.Username, tview.Escape(env.Name), env.Mime, env.Size)
	case protocol.KindStatus:
		fmt.Fprintf(chatView, "[green]%s\n", tview.Escape(env.Text))
	case protocol.KindJoin:
		fmt.Fprintf(chatView, "[green]joined %s\n", tview.Escape(env.Room))
	case protocol.KindUserList:
		fmt.Fprintf(chatView, "[grey]users: %s\n", tview.Escape(strings.Join(env.Users, ", ")))
	case protocol.KindRoomList:
		roomsView.Clear()
		for _, room := range env.Rooms {
			fmt.Fprintf(roomsView, "%s [grey](%d)[white]\n", tview.Escape(room.Name), room.Count)
		}
	case protocol.KindError:
		fmt.Fprintf(chatView, "[red]error %s: %s\n", env.Code, tview.Escape(env.Text))
	}
}

func stamp(ts int64) string {
	if ts == 0 {
		return time.Now().Format("15:04:05")
	}
	return time.Unix(ts, 0).Format("15:04:05")
}
