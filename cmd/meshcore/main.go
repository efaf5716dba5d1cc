// Command meshcore is the local management CLI for a mesh messenger
// device: identity, contacts, channels, and stored message history.
// It operates on the data directory only; radio transports are wired
// in by the embedding application.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/W4ashabii/meshapp"
	"github.com/W4ashabii/meshapp/channel"
	"github.com/W4ashabii/meshapp/config"
	"github.com/W4ashabii/meshapp/contact"
	"github.com/W4ashabii/meshapp/crypto"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// defaultDataDir resolves the data directory: the --data-dir flag,
// then $MESHCORE_DATA, then ~/.meshcore.
func defaultDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if env := os.Getenv("MESHCORE_DATA"); env != "" {
		return env
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".meshcore"
	}
	return filepath.Join(home, ".meshcore")
}

// newCore opens the Core for the resolved data directory. The caller
// must defer core.Close().
func newCore() (*meshapp.Core, error) {
	core, err := meshapp.New(meshapp.NewOptions(defaultDataDir()))
	if err != nil {
		return nil, fmt.Errorf("opening mesh core: %w", err)
	}
	return core, nil
}

// resolveContact accepts a nickname or a full hex user id.
func resolveContact(core *meshapp.Core, ref string) (*contact.Friend, error) {
	if id, err := crypto.ParseUserID(ref); err == nil {
		return core.GetContact(id)
	}
	for _, f := range core.Contacts() {
		if f.Nickname == ref {
			return f, nil
		}
	}
	return nil, fmt.Errorf("no contact matching %q", ref)
}

var dataDir string

var rootCmd = &cobra.Command{
	Use:   "meshcore",
	Short: "Serverless encrypted mesh messenger",
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the device identity and default configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := defaultDataDir()
		if err := config.Save(config.Default(dir)); err != nil {
			return err
		}

		core, err := newCore()
		if err != nil {
			return err
		}
		defer core.Close()

		fmt.Printf("Data directory: %s\n", dir)
		fmt.Printf("User ID:        %s\n", core.SelfID())
		fmt.Printf("Fingerprint:    %s\n", core.SelfFingerprint())
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Print the shareable identity bundle",
	RunE: func(cmd *cobra.Command, args []string) error {
		core, err := newCore()
		if err != nil {
			return err
		}
		defer core.Close()

		bundle, err := core.ExportIdentity()
		if err != nil {
			return err
		}
		fmt.Println(string(bundle))
		return nil
	},
}

var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "Manage contacts",
}

var contactsAddCmd = &cobra.Command{
	Use:   "add <bundle-file> <nickname>",
	Short: "Import a peer's identity bundle",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading bundle: %w", err)
		}

		core, err := newCore()
		if err != nil {
			return err
		}
		defer core.Close()

		userID, err := core.AddContact(bundle, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Added %s (%s)\n", args[1], crypto.Fingerprint(userID))
		return nil
	},
}

var contactsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List contacts",
	RunE: func(cmd *cobra.Command, args []string) error {
		core, err := newCore()
		if err != nil {
			return err
		}
		defer core.Close()

		friends := core.Contacts()
		if len(friends) == 0 {
			fmt.Println("No contacts.")
			return nil
		}
		for _, f := range friends {
			marker := " "
			if !f.HasExchangeKey() {
				marker = "!"
			}
			fmt.Printf("%s %-20s %s  %s\n", marker, f.DisplayName(), crypto.Fingerprint(f.UserID), f.Notes)
		}
		return nil
	},
}

var contactsRemoveCmd = &cobra.Command{
	Use:   "remove <nickname-or-id>",
	Short: "Remove a contact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		core, err := newCore()
		if err != nil {
			return err
		}
		defer core.Close()

		f, err := resolveContact(core, args[0])
		if err != nil {
			return err
		}
		if _, err := core.RemoveContact(f.UserID); err != nil {
			return err
		}
		fmt.Printf("Removed %s\n", f.Nickname)
		return nil
	},
}

var contactsRenameCmd = &cobra.Command{
	Use:   "rename <nickname-or-id> <new-nickname>",
	Short: "Change a contact's nickname",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		core, err := newCore()
		if err != nil {
			return err
		}
		defer core.Close()

		f, err := resolveContact(core, args[0])
		if err != nil {
			return err
		}
		update := contact.ProfileUpdate{Nickname: contact.Set(args[1])}
		if err := core.UpdateContact(f.UserID, update); err != nil {
			return err
		}
		fmt.Printf("Renamed %s to %s\n", f.Nickname, args[1])
		return nil
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <nickname-or-id> <message>",
	Short: "Queue an encrypted message for a contact",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		core, err := newCore()
		if err != nil {
			return err
		}
		defer core.Close()

		f, err := resolveContact(core, args[0])
		if err != nil {
			return err
		}
		msg, err := core.SendDirectMessage(f.UserID, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Queued %s\n", msg.ID)
		return nil
	},
}

var messagesCmd = &cobra.Command{
	Use:   "messages <nickname-or-id>",
	Short: "Show message history for a contact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		core, err := newCore()
		if err != nil {
			return err
		}
		defer core.Close()

		f, err := resolveContact(core, args[0])
		if err != nil {
			return err
		}
		ch, err := core.DirectChannel(f.UserID)
		if err != nil {
			return err
		}

		msgs, err := core.Messages(ch, limit, offset)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			direction := "<-"
			if m.IsSent {
				direction = "->"
			}
			fmt.Printf("%s %s %s\n", m.Timestamp.Format("2006-01-02 15:04"), direction, m.Plaintext)
		}
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear <nickname-or-id>",
	Short: "Delete all stored history for a contact's channel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		core, err := newCore()
		if err != nil {
			return err
		}
		defer core.Close()

		f, err := resolveContact(core, args[0])
		if err != nil {
			return err
		}
		ch, err := core.DirectChannel(f.UserID)
		if err != nil {
			return err
		}
		if err := core.ClearChannel(ch); err != nil {
			return err
		}
		fmt.Printf("Cleared history with %s\n", f.Nickname)
		return nil
	},
}

var geoCmd = &cobra.Command{
	Use:   "geo",
	Short: "Manage open geohash channels",
}

var geoJoinCmd = &cobra.Command{
	Use:   "join <geohash> <topic>",
	Short: "Join a geohash topic channel",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		core, err := newCore()
		if err != nil {
			return err
		}
		defer core.Close()

		ch, err := core.JoinGeoChannel(args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Joined %s\n", ch)
		return nil
	},
}

var geoSendCmd = &cobra.Command{
	Use:   "send <channel-id> <message>",
	Short: "Queue a message on a joined geo channel",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		core, err := newCore()
		if err != nil {
			return err
		}
		defer core.Close()

		ch, err := channel.ParseID(args[0])
		if err != nil {
			return err
		}
		msg, err := core.SendGeoMessage(ch, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Queued %s\n", msg.ID)
		return nil
	},
}

var noteCmd = &cobra.Command{
	Use:   "note <text>",
	Short: "Save an encrypted note to self",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		core, err := newCore()
		if err != nil {
			return err
		}
		defer core.Close()

		msg, err := core.SaveSelfNote(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Saved %s\n", msg.ID)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show router traffic counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		core, err := newCore()
		if err != nil {
			return err
		}
		defer core.Close()

		s := core.Stats()
		fmt.Printf("Received:      %d\n", s.Received)
		fmt.Printf("Duplicates:    %d\n", s.Duplicates)
		fmt.Printf("Delivered:     %d\n", s.Delivered)
		fmt.Printf("Forwarded:     %d\n", s.Forwarded)
		fmt.Printf("TTL exhausted: %d\n", s.TTLExhausted)
		fmt.Printf("Sent:          %d\n", s.Sent)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (default $MESHCORE_DATA or ~/.meshcore)")

	contactsCmd.AddCommand(contactsAddCmd)
	contactsCmd.AddCommand(contactsListCmd)
	contactsCmd.AddCommand(contactsRemoveCmd)
	contactsCmd.AddCommand(contactsRenameCmd)

	geoCmd.AddCommand(geoJoinCmd)
	geoCmd.AddCommand(geoSendCmd)

	messagesCmd.Flags().IntP("limit", "n", 50, "Maximum number of messages to show")
	messagesCmd.Flags().Int("offset", 0, "Messages to skip from the start")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(contactsCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(messagesCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(geoCmd)
	rootCmd.AddCommand(noteCmd)
	rootCmd.AddCommand(statsCmd)
}
