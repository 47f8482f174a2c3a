package cmds

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-go-golems/docagent/pkg/agent"
	"github.com/go-go-golems/docagent/pkg/events"
	"github.com/go-go-golems/docagent/pkg/filestore"
	"github.com/go-go-golems/docagent/pkg/observability"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func NewRunCommand() *cobra.Command {
	var (
		sf             storeFlags
		conversationID string
		attachments    []string
		printEvents    bool
	)

	cmd := &cobra.Command{
		Use:   "run [message]",
		Short: "Answer one message with the agent",
		Long:  "Answer one message with the agent. Pass - or no argument to read the message from stdin.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			msg, err := readMessage(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if conversationID == "" {
				conversationID = uuid.NewString()
			}

			cfg, err := agentConfig(ctx, cmd, conversationID)
			if err != nil {
				return err
			}
			store, err := sf.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			specs, err := sf.loadSpecs()
			if err != nil {
				return err
			}

			files, atts, err := attachedFiles(attachments)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			opts := []agent.Option{
				agent.WithFunctionSpecs(specs, nil),
				agent.WithFileStore(files),
				agent.WithMessageSink(events.MessageSinkFunc(func(_ context.Context, _ string, text string) error {
					_, err := fmt.Fprintln(out, text)
					return err
				})),
				agent.WithMetrics(observability.Default()),
				agent.WithTracer(observability.NewTracer()),
			}
			if printEvents {
				pubSub := events.NewInMemoryPubSub()
				defer func() { _ = pubSub.Close() }()
				evs, err := pubSub.Subscribe(ctx, events.TopicEvents)
				if err != nil {
					return err
				}
				go logEvents(evs)
				opts = append(opts, agent.WithEventSinks(events.NewWatermillSink(pubSub, events.TopicEvents)))
			}

			facade := agent.New(store, opts...)
			go func() {
				<-ctx.Done()
				facade.Stop(conversationID)
			}()

			res := facade.Run(context.WithoutCancel(ctx), agent.Request{
				ConversationID: conversationID,
				Config:         cfg,
				UserMessage:    msg,
				Attachments:    atts,
			})
			if !res.Success {
				if res.Text != "" {
					_, _ = fmt.Fprintln(out, res.Text)
				}
				return errors.New(res.Error)
			}
			return nil
		},
	}

	sf.register(cmd)
	cmd.Flags().StringVar(&conversationID, "conversation", "", "Conversation id (default: random)")
	cmd.Flags().StringSliceVar(&attachments, "attach", nil, "Files to attach to the conversation")
	cmd.Flags().BoolVar(&printEvents, "events", false, "Log agent events")
	cmd.Flags().String("provider", "", "Backend provider (openai, ollama, anthropic, assistant)")
	cmd.Flags().String("model", "", "Model name")
	cmd.Flags().Bool("allow-write", false, "Persist the effects of write tools")
	cmd.Flags().Int("max-rounds", 0, "Maximum number of model round trips")
	cmd.Flags().Bool("debug", false, "Include error details in failure messages")
	cmd.Flags().String("assistant-id", "", "Assistant id for the assistant provider")

	return cmd
}

func readMessage(args []string, stdin io.Reader) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", errors.Wrap(err, "could not read message from stdin")
	}
	msg := strings.TrimSpace(string(b))
	if msg == "" {
		return "", errors.New("empty message")
	}
	return msg, nil
}

// attachedFiles serves every attachment from its own path.
func attachedFiles(paths []string) (filestore.Store, []filestore.Attachment, error) {
	if len(paths) == 0 {
		return nil, nil, nil
	}
	mem := filestore.Memory{}
	atts := make([]filestore.Attachment, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, nil, err
		}
		dir := filestore.Dir{Root: filepath.Dir(abs)}
		att, err := dir.Describe(filepath.Base(abs))
		if err != nil {
			return nil, nil, err
		}
		data, err := dir.Open(context.Background(), att.ID)
		if err != nil {
			return nil, nil, err
		}
		att.ID = abs
		mem[abs] = data
		atts = append(atts, att)
	}
	return mem, atts, nil
}

func logEvents(msgs <-chan *message.Message) {
	for m := range msgs {
		ev, err := events.NewEventFromJson(m.Payload)
		if err != nil {
			log.Warn().Err(err).Msg("could not decode event")
			m.Ack()
			continue
		}
		log.Info().
			Str("event_type", string(ev.Type())).
			EmbedObject(ev.Metadata()).
			RawJSON("payload", m.Payload).
			Msg("agent event")
		m.Ack()
	}
}
