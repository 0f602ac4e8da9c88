package frontend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/user/modforge/internal/database"
	"github.com/user/modforge/internal/gitrepo"
	"github.com/user/modforge/internal/logger"
	"github.com/user/modforge/internal/pipeline"
	"github.com/user/modforge/internal/runlog"
	"github.com/user/modforge/internal/storage"
	"github.com/user/modforge/pkg/discord"
)

const presignTTL = 15 * time.Minute

// ReleaseStarter is the pipeline surface the API consumes.
type ReleaseStarter interface {
	Start(req pipeline.Request) (string, error)
	CurrentStatus() pipeline.Status
}

// BranchLister reads branches and commit summaries from the working tree.
type BranchLister interface {
	ListRemoteBranches() ([]string, error)
	LogSummary(ref string, count int) ([]gitrepo.CommitSummary, error)
}

// RunHistory lists persisted runs, newest first.
type RunHistory interface {
	ListRuns(ctx context.Context, limit int) ([]database.Run, error)
}

// HookPoster delivers a chat message. Implemented by *discord.Webhook.
type HookPoster interface {
	Post(ctx context.Context, message discord.Message) error
}

type Handlers struct {
	runner   ReleaseStarter
	runs     RunHistory
	store    storage.ObjectStore
	repo     BranchLister
	runLog   *runlog.Log
	bugsPath string
	gate     *Gatekeeper

	commitHook   HookPoster
	trackerHook  HookPoster
	trackerBotID int
	botName      string
	avatarURL    string
}

type HandlersConfig struct {
	Runner   ReleaseStarter
	Runs     RunHistory
	Store    storage.ObjectStore
	Repo     BranchLister
	RunLog   *runlog.Log
	BugsPath string
	Gate     *Gatekeeper

	CommitHook HookPoster
	// TrackerHook posts inbound tracker events; events by TrackerBotID (the
	// release automation's own tracker account) are dropped.
	TrackerHook  HookPoster
	TrackerBotID int
	BotName      string
	AvatarURL    string
}

func NewHandlers(cfg HandlersConfig) *Handlers {
	return &Handlers{
		runner:      cfg.Runner,
		runs:        cfg.Runs,
		store:       cfg.Store,
		repo:        cfg.Repo,
		runLog:      cfg.RunLog,
		bugsPath:    cfg.BugsPath,
		gate:        cfg.Gate,
		commitHook:   cfg.CommitHook,
		trackerHook:  cfg.TrackerHook,
		trackerBotID: cfg.TrackerBotID,
		botName:      cfg.BotName,
		avatarURL:    cfg.AvatarURL,
	}
}

// authorize runs the gate and writes the rejection itself, returning the
// user only on success. A nil gate admits everyone.
func (h *Handlers) authorize(w http.ResponseWriter, r *http.Request, teamOnly bool) (*UserInfo, bool) {
	if h.gate == nil {
		return &UserInfo{Name: "anonymous"}, true
	}

	switch result := h.gate.Authorize(r, teamOnly).(type) {
	case Authorized:
		return &result.User, true
	case RateLimited:
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(result.RetryAfter.Seconds()))))
		http.Error(w, "Role check rate limited, try again shortly", http.StatusTooManyRequests)
		return nil, false
	case Unauthorized:
		http.Error(w, result.Reason, http.StatusForbidden)
		return nil, false
	default:
		http.Error(w, "Unauthorized", http.StatusForbidden)
		return nil, false
	}
}

func (h *Handlers) CreateRelease(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authorize(w, r, true)
	if !ok {
		return
	}

	var body struct {
		Version   string         `json:"version"`
		Candidate string         `json:"candidate"`
		Beta      bool           `json:"beta"`
		Branch    string         `json:"branch"`
		Commit    string         `json:"commit"`
		Flows     pipeline.Flows `json:"flows"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	runID, err := h.runner.Start(pipeline.Request{
		IsBeta:    body.Beta,
		Version:   body.Version,
		Candidate: body.Candidate,
		Branch:    body.Branch,
		Commit:    body.Commit,
		Flows:     body.Flows,
		User:      pipeline.User{ID: user.ID, Name: user.Name},
	})
	if err != nil {
		var busy *pipeline.BusyError
		if errors.As(err, &busy) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusLocked)
			json.NewEncoder(w).Encode(map[string]string{
				"error": busy.Error(),
				"log":   busy.Log,
			})
			return
		}
		if pipeline.IsValidationError(err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"run_id": runID})
}

func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]any{
		"status": h.runner.CurrentStatus(),
		"log":    h.runLog.Snapshot(),
	})
}

func (h *Handlers) ListBranches(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r, true); !ok {
		return
	}

	branches, err := h.repo.ListRemoteBranches()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	type branchInfo struct {
		Name string                 `json:"name"`
		Head *gitrepo.CommitSummary `json:"head,omitempty"`
	}

	infos := make([]branchInfo, 0, len(branches))
	for _, branch := range branches {
		info := branchInfo{Name: branch}
		if summaries, err := h.repo.LogSummary(branch, 1); err == nil && len(summaries) > 0 {
			info.Head = &summaries[0]
		}
		infos = append(infos, info)
	}
	respondJSON(w, infos)
}

func (h *Handlers) ListDownloads(w http.ResponseWriter, r *http.Request) {
	beta := r.URL.Query().Get("beta") == "true"
	kind := "release"
	if beta {
		// Beta artifacts are for testers and team members only.
		if _, ok := h.authorize(w, r, false); !ok {
			return
		}
		kind = "beta"
	}

	if key := r.URL.Query().Get("download"); key != "" {
		if !strings.HasPrefix(key, kind) {
			http.Error(w, "Unknown download", http.StatusNotFound)
			return
		}
		url, err := h.store.PresignedDownloadURL(r.Context(), key, presignTTL)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		http.Redirect(w, r, url, http.StatusFound)
		return
	}

	objects, err := h.store.ListObjects(r.Context(), kind)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	type download struct {
		Key          string `json:"key"`
		Size         int64  `json:"size"`
		SizeHuman    string `json:"size_human"`
		LastModified string `json:"last_modified"`
	}

	downloads := make([]download, 0, len(objects))
	for _, obj := range objects {
		downloads = append(downloads, download{
			Key:          obj.Key,
			Size:         obj.Size,
			SizeHuman:    humanize.Bytes(uint64(obj.Size)),
			LastModified: obj.LastModified.UTC().Format(time.RFC3339),
		})
	}
	respondJSON(w, downloads)
}

func (h *Handlers) GetBugReport(w http.ResponseWriter, r *http.Request) {
	data, err := os.ReadFile(h.bugsPath)
	if err != nil {
		http.Error(w, "No bug report available", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(data)
}

func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r, true); !ok {
		return
	}
	if h.runs == nil {
		respondJSON(w, []database.Run{})
		return
	}

	runs, err := h.runs.ListRuns(r.Context(), 50)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, runs)
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ReceiveCommitHook translates a push event into a chat embed.
func (h *Handlers) ReceiveCommitHook(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Ref    string `json:"ref"`
		Pusher struct {
			Name string `json:"name"`
		} `json:"pusher"`
		Commits []struct {
			Message string `json:"message"`
			URL     string `json:"url"`
		} `json:"commits"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	lines := make([]string, 0, len(payload.Commits))
	for _, commit := range payload.Commits {
		subject := commit.Message
		if idx := strings.IndexByte(subject, '\n'); idx >= 0 {
			subject = subject[:idx]
		}
		if commit.URL != "" {
			lines = append(lines, fmt.Sprintf("[%s](%s)", subject, commit.URL))
		} else {
			lines = append(lines, subject)
		}
	}

	branch := strings.TrimPrefix(payload.Ref, "refs/heads/")
	h.postHook(h.commitHook, discord.Embed{
		Title:       fmt.Sprintf("%d new commits on %s", len(payload.Commits), branch),
		Description: fmt.Sprintf("Pushed by **%s**\n%s", payload.Pusher.Name, strings.Join(lines, "\n")),
		Color:       embedColor,
	})
	respondJSON(w, map[string]string{"status": "ok"})
}

// ReceiveTrackerHook translates a tracker event into a chat embed. Events
// outside the interesting action/type set are acknowledged without posting,
// as are the release bot's own updates: a release moves whole columns at
// once and must not echo one embed per ticket.
func (h *Handlers) ReceiveTrackerHook(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Action string `json:"action"`
		Type   string `json:"type"`
		By     struct {
			ID       int    `json:"id"`
			FullName string `json:"full_name"`
		} `json:"by"`
		Data struct {
			Ref     int    `json:"ref"`
			Subject string `json:"subject"`
		} `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if payload.Action != "create" && payload.Action != "change" && payload.Action != "test" {
		respondJSON(w, map[string]string{"status": "skipped"})
		return
	}
	if payload.Type != "userstory" && payload.Type != "test" {
		respondJSON(w, map[string]string{"status": "skipped"})
		return
	}
	if h.trackerBotID != 0 && payload.By.ID == h.trackerBotID {
		respondJSON(w, map[string]string{"status": "skipped"})
		return
	}

	h.postHook(h.trackerHook, discord.Embed{
		Title: fmt.Sprintf("Ticket #%d %sd", payload.Data.Ref, payload.Action),
		Description: fmt.Sprintf("**%s**\n%s by %s",
			payload.Data.Subject, payload.Type, payload.By.FullName),
		Color: embedColor,
	})
	respondJSON(w, map[string]string{"status": "ok"})
}

const embedColor = 5814783

// postHook is best effort: hook delivery failures are logged, never surfaced
// to the sender.
func (h *Handlers) postHook(hook HookPoster, embed discord.Embed) {
	if hook == nil {
		return
	}
	message := discord.Message{
		Embeds:    []discord.Embed{embed},
		Username:  h.botName,
		AvatarURL: h.avatarURL,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := hook.Post(ctx, message); err != nil {
			logger.Error().Err(err).Str("title", embed.Title).Msg("Could not deliver hook embed")
		}
	}()
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}
