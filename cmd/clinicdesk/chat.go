package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/clinicdesk/internal/livesync"
	"github.com/TheMichaelB/clinicdesk/internal/models"
	"github.com/TheMichaelB/clinicdesk/internal/services/journal"
	"github.com/TheMichaelB/clinicdesk/internal/store"
)

var chatCmd = &cobra.Command{
	Use:     "chat",
	Short:   "Read and answer a patient's chat",
	GroupID: "assistant",
}

var (
	chatLimit  int
	chatAttach string
	chatPost   bool
)

// attachFile opens path into a new slot. The caller closes the file.
func attachFile(path string) (*journal.Slot, *os.File, error) {
	slot := &journal.Slot{}
	if path == "" {
		return slot, nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open attachment: %w", err)
	}
	slot.Attach(filepath.Base(path), f)
	return slot, f, nil
}

func init() {
	rootCmd.AddCommand(chatCmd)

	showCmd := &cobra.Command{
		Use:   "show <patient-id>",
		Short: "Print the latest messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := recordsService(); err != nil {
				return err
			}
			return listCollection(cmd.Context(), livesync.Chat, store.Query{
				Path:        apiClient.Paths().Journal(args[0]),
				LimitToLast: chatLimit,
			})
		},
	}
	showCmd.Flags().IntVarP(&chatLimit, "limit", "n", 50, "Number of messages")

	sendCmd := &cobra.Command{
		Use:   "send <patient-id> [text]",
		Short: "Post a message as the dentist",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := recordsService(); err != nil {
				return err
			}
			slot, f, err := attachFile(chatAttach)
			if err != nil {
				return err
			}
			if f != nil {
				defer f.Close()
			}
			text := ""
			if len(args) == 2 {
				text = args[1]
			}
			msg, err := apiClient.Journal().Send(cmd.Context(), args[0], models.AuthorDentist, text, slot)
			if err != nil {
				return report(err, nil, "")
			}
			return report(nil, map[string]interface{}{"id": msg.ID}, "Message %s sent", msg.ID)
		},
	}
	sendCmd.Flags().StringVarP(&chatAttach, "attach", "a", "", "File to attach")

	askCmd := &cobra.Command{
		Use:   "ask <patient-id>",
		Short: "Ask the assistant to suggest a reply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := recordsService()
			if err != nil {
				return err
			}
			patient, err := svc.Patient(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			directives, err := svc.Directives(cmd.Context())
			if err != nil {
				return err
			}

			j := apiClient.Journal()
			comp, err := j.Suggest(cmd.Context(), *patient, directives)
			if err != nil {
				if !jsonOutput {
					return fmt.Errorf("%s", describe(err))
				}
				return report(err, nil, "")
			}

			result := map[string]interface{}{
				"model":    string(comp.Candidate),
				"attempts": len(comp.Attempts),
				"text":     comp.Text,
			}
			if chatPost {
				msg, err := j.Send(cmd.Context(), patient.ID, models.AuthorDentist, journal.SuggestionText(comp.Text), nil)
				if err != nil {
					return report(err, result, "")
				}
				result["id"] = msg.ID
			}
			if jsonOutput {
				return report(nil, result, "")
			}
			printInfo("Suggestion from %s:", comp.Candidate)
			fmt.Println(comp.Text)
			if chatPost {
				printSuccess("Posted as %s", result["id"])
			}
			return nil
		},
	}
	askCmd.Flags().BoolVar(&chatPost, "post", false, "Post the suggestion to the chat")

	draftsCmd := &cobra.Command{
		Use:   "drafts <patient-id>",
		Short: "List auto-reply drafts waiting for review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := recordsService(); err != nil {
				return err
			}
			return listCollection(cmd.Context(), livesync.ReplyDrafts, store.Query{Path: apiClient.Paths().ReplyDrafts(args[0])})
		},
	}

	approveCmd := &cobra.Command{
		Use:   "approve <patient-id> <draft-id> [text]",
		Short: "Send a draft, optionally edited",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := recordsService(); err != nil {
				return err
			}
			text := ""
			if len(args) == 3 {
				text = args[2]
			}
			msg, err := apiClient.Journal().ApproveDraft(cmd.Context(), args[0], args[1], text)
			if err != nil {
				return report(err, nil, "")
			}
			return report(nil, map[string]interface{}{"id": msg.ID}, "Draft sent as %s", msg.ID)
		},
	}

	discardCmd := &cobra.Command{
		Use:   "discard <patient-id> <draft-id>",
		Short: "Delete a draft",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := recordsService(); err != nil {
				return err
			}
			err := apiClient.Journal().DiscardDraft(cmd.Context(), args[0], args[1])
			return report(err, nil, "Draft %s discarded", args[1])
		},
	}

	chatCmd.AddCommand(showCmd, sendCmd, askCmd, draftsCmd, approveCmd, discardCmd)
}
