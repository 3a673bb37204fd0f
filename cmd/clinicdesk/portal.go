package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/clinicdesk/internal/services/journal"
	"github.com/TheMichaelB/clinicdesk/internal/services/session"
	"github.com/TheMichaelB/clinicdesk/internal/views"
)

var portalCmd = &cobra.Command{
	Use:     "portal",
	Short:   "Open the patient portal",
	GroupID: "session",
	Long: `Portal signs a patient in by email and shows their chat and what they
owe. Lines typed are sent to the clinic; "/attach <file>" attaches a file
to the next line and "/quit" leaves.`,
	RunE: runPortal,
}

var portalEmail string

func init() {
	rootCmd.AddCommand(portalCmd)
	portalCmd.PersistentFlags().StringVarP(&portalEmail, "email", "e", "", "Patient email")
	_ = portalCmd.MarkPersistentFlagRequired("email")

	portalCmd.AddCommand(&cobra.Command{
		Use:   "send <text>",
		Short: "Send one message as the patient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := apiClient.OpenPortal(cmd.Context(), portalEmail, nil)
			if err != nil {
				return err
			}
			defer p.Close()

			res, err := p.Send(cmd.Context(), args[0])
			if err != nil {
				return report(err, nil, "")
			}
			result := map[string]interface{}{"id": res.Message.ID}
			switch {
			case res.Reply != nil:
				result["reply"] = res.Reply.Text
			case res.Draft != nil:
				result["draft"] = res.Draft.ID
			case res.ReplyErr != nil:
				result["reply_error"] = describe(res.ReplyErr)
			}
			if jsonOutput {
				return report(nil, result, "")
			}
			printSuccess("Message %s sent", res.Message.ID)
			printReply(res)
			return nil
		},
	})
}

func printReply(res *journal.PatientResult) {
	switch {
	case res.Reply != nil:
		printInfo("%s", res.Reply.Text)
	case res.Draft != nil:
		printInfo("Mensagem recebida. A clínica responderá em breve.")
	case res.ReplyErr != nil:
		printWarning("Resposta automática indisponível: %s", describe(res.ReplyErr))
	}
}

func runPortal(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	con := views.NewConsole(os.Stdout, views.ConsoleOptions{Color: cfg.Log.Color && !noColor})
	p, err := apiClient.OpenPortal(ctx, portalEmail, con)
	if err != nil {
		return err
	}
	defer p.Close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			cancel()
			os.Stdin.Close()
		case <-ctx.Done():
		}
	}()

	con.Notice("Olá, %s.", p.Patient().Name)
	return portalLoop(ctx, p, bufio.NewScanner(os.Stdin))
}

func portalLoop(ctx context.Context, p *session.Portal, scanner *bufio.Scanner) error {
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			return nil
		case strings.HasPrefix(line, "/attach "):
			path := strings.TrimSpace(strings.TrimPrefix(line, "/attach "))
			data, err := os.ReadFile(path)
			if err != nil {
				printError("read attachment: %v", err)
				continue
			}
			p.Attach(filepath.Base(path), bytes.NewReader(data))
			printInfo("Anexo pronto: %s", filepath.Base(path))
			continue
		}

		res, err := p.Send(ctx, line)
		if err != nil {
			printError("%s", describe(err))
			continue
		}
		if res.Draft != nil || res.ReplyErr != nil {
			printReply(res)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	return nil
}
