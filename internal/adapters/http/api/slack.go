package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/slack-go/slack"

	"github.com/Dan-Hightower/hirebot/internal/adapters/chat"
	"github.com/Dan-Hightower/hirebot/internal/domain/model"
	"github.com/Dan-Hightower/hirebot/pkg/logger"
	"github.com/Dan-Hightower/hirebot/pkg/metrics"
)

// maxBodyBytes bounds a Slack callback body.
const maxBodyBytes = 1 << 20

// ephemeralAck is the synchronous reply to a slash command.
type ephemeralAck struct {
	ResponseType string `json:"response_type"`
	Text         string `json:"text"`
}

// SlackHandler turns signed Slack callbacks into queued jobs.
type SlackHandler struct {
	secret  string
	command string
	deps    Dependencies
	log     logger.Logger
}

// NewSlackHandler creates a handler for slash commands and interactions.
func NewSlackHandler(cfg Config, deps Dependencies, log logger.Logger) *SlackHandler {
	if log == nil {
		log = logger.Discard()
	}
	return &SlackHandler{secret: cfg.SigningSecret, command: cfg.Command, deps: deps, log: log}
}

// HandleCommand handles POST /slack/commands.
func (h *SlackHandler) HandleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
		return
	}
	if err := h.verify(r); err != nil {
		h.reject(w, r, err)
		return
	}
	cmd, err := slack.SlashCommandParse(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind("slash_command", ErrBadRequest, err))
		return
	}
	if h.command != "" && cmd.Command != h.command {
		writeError(w, http.StatusBadRequest, "unknown_command", WrapKind("slash_command", ErrUnknownCommand, errors.New(cmd.Command)))
		return
	}
	if strings.TrimSpace(cmd.Text) == "" {
		writeJSON(w, http.StatusOK, ephemeralAck{ResponseType: "ephemeral", Text: chat.TextParseFailure})
		return
	}

	ctx := r.Context()
	key := ""
	if cmd.TriggerID != "" {
		key = "cmd:" + cmd.TriggerID
		if h.deps.SeenAndRecord(ctx, key) {
			metrics.RecordDuplicate("command_delivery")
			w.WriteHeader(http.StatusOK)
			return
		}
	}

	job := model.Job{
		ID:   key,
		Kind: model.KindHireCommand,
		Command: &model.Command{
			Text:        strings.TrimSpace(cmd.Text),
			UserID:      cmd.UserID,
			UserName:    cmd.UserName,
			ChannelID:   cmd.ChannelID,
			ResponseURL: cmd.ResponseURL,
			TriggerID:   cmd.TriggerID,
		},
	}
	if !h.deps.Enqueue(ctx, job) {
		if key != "" {
			h.deps.Unrecord(ctx, key)
		}
		h.log.Warn(ctx, "job queue full, command refused", logger.String("user_id", cmd.UserID))
		writeJSON(w, http.StatusOK, ephemeralAck{ResponseType: "ephemeral", Text: chat.TextBusy})
		return
	}
	writeJSON(w, http.StatusOK, ephemeralAck{ResponseType: "ephemeral", Text: chat.TextWorking})
}

// HandleInteraction handles POST /slack/interactions.
func (h *SlackHandler) HandleInteraction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
		return
	}
	if err := h.verify(r); err != nil {
		h.reject(w, r, err)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind("interaction", ErrBadRequest, err))
		return
	}
	raw := r.PostFormValue("payload")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind("interaction", ErrBadRequest))
		return
	}
	var cb slack.InteractionCallback
	if err := json.Unmarshal([]byte(raw), &cb); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind("interaction", ErrBadRequest, err))
		return
	}
	if cb.Type != slack.InteractionTypeBlockActions {
		w.WriteHeader(http.StatusOK)
		return
	}

	ctx := r.Context()
	for _, job := range jobsFrom(&cb) {
		if h.deps.SeenAndRecord(ctx, job.ID) {
			metrics.RecordDuplicate("action_delivery")
			continue
		}
		if !h.deps.Enqueue(ctx, job) {
			h.deps.Unrecord(ctx, job.ID)
			h.log.Warn(ctx, "job queue full, action refused", logger.String("action_id", job.Action.ActionID))
			writeError(w, http.StatusTooManyRequests, "backpressure", NewKind("interaction", ErrBackpressure))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

// jobsFrom maps the workflow buttons of a block_actions callback to jobs.
// Other actions, such as typing into the form inputs, are ignored.
func jobsFrom(cb *slack.InteractionCallback) []model.Job {
	var jobs []model.Job
	for _, a := range cb.ActionCallback.BlockActions {
		if a == nil {
			continue
		}
		kind := model.JobKind(a.ActionID)
		switch kind {
		case model.KindConfirm, model.KindCancel, model.KindSubmit:
		default:
			continue
		}
		messageTS := cb.Container.MessageTs
		if messageTS == "" {
			messageTS = cb.Message.Timestamp
		}
		channelID := cb.Container.ChannelID
		if channelID == "" {
			channelID = cb.Channel.ID
		}
		jobs = append(jobs, model.Job{
			ID:   "act:" + a.ActionID + ":" + a.ActionTs,
			Kind: kind,
			Action: &model.Action{
				ActionID:    a.ActionID,
				Value:       a.Value,
				UserID:      cb.User.ID,
				ChannelID:   channelID,
				MessageTS:   messageTS,
				ThreadTS:    cb.Message.ThreadTimestamp,
				ResponseURL: cb.ResponseURL,
				Form:        chat.FormValues(cb.BlockActionState),
			},
		})
	}
	return jobs
}

// verify checks the Slack request signature and restores the body for the
// parsers that follow.
func (h *SlackHandler) verify(r *http.Request) error {
	const op = "verify_signature"
	body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err != nil {
		return WrapKind(op, ErrBadRequest, err)
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	sv, err := slack.NewSecretsVerifier(r.Header, h.secret)
	if err != nil {
		return WrapKind(op, ErrUnauthorized, err)
	}
	if _, err := sv.Write(body); err != nil {
		return WrapKind(op, ErrUnauthorized, err)
	}
	if err := sv.Ensure(); err != nil {
		return WrapKind(op, ErrUnauthorized, err)
	}
	return nil
}

func (h *SlackHandler) reject(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ErrBadRequest) {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	h.log.Warn(r.Context(), "rejected unsigned slack request", logger.String("path", r.URL.Path), logger.Error(err))
	metrics.RecordErrorByComponent("http", "signature")
	writeError(w, http.StatusUnauthorized, "unauthorized", ErrUnauthorized)
}
