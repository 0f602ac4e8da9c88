// Package trackersync drives the issue tracker through a release: epic
// rollover, bulk column moves, the bug-fix report, and the standalone batch
// operations exposed on the CLI.
package trackersync

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/user/modforge/internal/config"
	"github.com/user/modforge/internal/logger"
	"github.com/user/modforge/internal/runlog"
	"github.com/user/modforge/pkg/taiga"
)

// Workflow status names used by the release process.
const (
	StatusFixedInternally = "fixed-internally"
	StatusInTest          = "in-test"
	StatusAwaitingRelease = "awaiting-release"
	StatusDone            = "done"
)

const (
	epicCurrent = "current"
	epicOld     = "old"

	// Closed epics sink to a fixed position in the board.
	oldEpicOrder = 3

	versionTagColor = "#4C566A"
)

// TicketTracker is the tracker capability the synchronizer consumes. The
// production implementation is *taiga.Client.
type TicketTracker interface {
	ListStories(ctx context.Context, filter taiga.StoryFilter) ([]taiga.Story, error)
	ListEpics(ctx context.Context) ([]taiga.Epic, error)
	UpdateStory(ctx context.Context, storyID, version int, patch taiga.StoryPatch) error
	UpdateEpic(ctx context.Context, epicID, version int, patch taiga.EpicPatch) error
	CreateEpic(ctx context.Context, name string, status int) (*taiga.Epic, error)
	CreateTag(ctx context.Context, name, color string) error
	AttachStoryToEpic(ctx context.Context, epicID, storyID int) error
	BulkReorderStories(ctx context.Context, storyIDs []int, status int) error
	GetStoryAttributes(ctx context.Context, storyID int) (*taiga.StoryAttributes, error)
	GetStoryHistory(ctx context.Context, storyID int) ([]taiga.HistoryEntry, error)
}

type Synchronizer struct {
	tracker      TicketTracker
	statuses     map[string]int
	epicStatuses map[string]int
	testedAttrID int
	reportPath   string
	log          *runlog.Log
}

func New(tracker TicketTracker, cfg config.TrackerConfig, reportPath string, log *runlog.Log) *Synchronizer {
	return &Synchronizer{
		tracker:      tracker,
		statuses:     cfg.StatusMappings,
		epicStatuses: cfg.EpicStatuses,
		testedAttrID: cfg.TestedAttributeID,
		reportPath:   reportPath,
		log:          log,
	}
}

func (s *Synchronizer) line(format string, args ...interface{}) {
	if s.log != nil {
		s.log.Line(format, args...)
	}
}

func (s *Synchronizer) statusID(name string) (int, error) {
	id, ok := s.statuses[name]
	if !ok {
		return 0, fmt.Errorf("no status mapping for %q", name)
	}
	return id, nil
}

func (s *Synchronizer) epicStatusID(name string) (int, error) {
	id, ok := s.epicStatuses[name]
	if !ok {
		return 0, fmt.Errorf("no epic status mapping for %q", name)
	}
	return id, nil
}

// EpicName computes the bug-bucket subject for one release, e.g.
// "1.0 Beta 2 Bugs" or "1.0 Release Bugs".
func EpicName(isBeta bool, version, candidate string) string {
	tag := "Release"
	suffix := ""
	if isBeta {
		tag = "Beta"
		suffix = " " + candidate
	}
	return fmt.Sprintf("%s %s%s Bugs", version, tag, suffix)
}

// SyncRelease runs the tracker side of a release: epic rollover plus the
// column move matching the release kind. A full release also renders the
// bug-fix report before its tickets are closed.
func (s *Synchronizer) SyncRelease(ctx context.Context, isBeta bool, version, candidate string) error {
	s.line("Closing previous epic and creating new one")
	if err := s.rolloverEpics(ctx, isBeta, version, candidate); err != nil {
		return err
	}

	if isBeta {
		s.line("Moving tickets from %s to %s", StatusFixedInternally, StatusInTest)
		return s.MoveColumn(ctx, StatusFixedInternally, StatusInTest)
	}

	s.line("Generating bug report")
	if err := s.WriteBugReport(ctx, version); err != nil {
		return err
	}

	s.line("Moving tickets from %s to %s", StatusAwaitingRelease, StatusDone)
	return s.MoveColumn(ctx, StatusAwaitingRelease, StatusDone)
}

func (s *Synchronizer) rolloverEpics(ctx context.Context, isBeta bool, version, candidate string) error {
	name := EpicName(isBeta, version, candidate)
	versionTag := "release"
	if isBeta {
		versionTag = "beta"
	}

	epics, err := s.tracker.ListEpics(ctx)
	if err != nil {
		return fmt.Errorf("listing epics: %w", err)
	}

	// Retrying the same release must not grow a second bug bucket.
	for _, epic := range epics {
		if strings.Contains(epic.Subject, name) {
			logger.Info().Str("epic", name).Msg("Skipping epic creation, duplicate already exists")
			s.line("Epic %q already exists, skipping creation", name)
			return nil
		}
	}

	if err := s.closeCurrentEpic(ctx, epics, versionTag); err != nil {
		return err
	}

	currentID, err := s.epicStatusID(epicCurrent)
	if err != nil {
		return err
	}
	if _, err := s.tracker.CreateEpic(ctx, name, currentID); err != nil {
		return fmt.Errorf("creating epic %q: %w", name, err)
	}
	return nil
}

func (s *Synchronizer) closeCurrentEpic(ctx context.Context, epics []taiga.Epic, versionTag string) error {
	oldID, err := s.epicStatusID(epicOld)
	if err != nil {
		return err
	}

	for _, epic := range epics {
		if epic.StatusExtraInfo.Name != "Current" {
			continue
		}
		if !strings.Contains(strings.ToLower(epic.Subject), versionTag) {
			continue
		}

		order := oldEpicOrder
		err := s.tracker.UpdateEpic(ctx, epic.ID, epic.Version, taiga.EpicPatch{
			Status: &oldID,
			Order:  &order,
		})
		if err != nil {
			return fmt.Errorf("closing epic %d: %w", epic.ID, err)
		}
		return nil
	}

	// Losing track of the previous bucket is worth a complaint but must not
	// block the release.
	logger.Error().Str("tag", versionTag).Msg("Could not close previous epic")
	s.line("No current %s epic found to close", versionTag)
	return nil
}

// MoveColumn transitions every story in from to to. Updates are issued
// independently: a single stale-version rejection is logged and skipped, and
// the move fails only when the tracker rejects every story.
func (s *Synchronizer) MoveColumn(ctx context.Context, from, to string) error {
	fromID, err := s.statusID(from)
	if err != nil {
		return err
	}
	toID, err := s.statusID(to)
	if err != nil {
		return err
	}

	stories, err := s.tracker.ListStories(ctx, taiga.StoryFilter{Status: &fromID})
	if err != nil {
		return fmt.Errorf("listing %s stories: %w", from, err)
	}

	var failed int
	for _, story := range stories {
		err := s.tracker.UpdateStory(ctx, story.ID, story.Version, taiga.StoryPatch{Status: &toID})
		if err != nil {
			failed++
			logger.Error().Err(err).Int("story", story.ID).Str("from", from).Str("to", to).
				Msg("Story update rejected")
			s.line("Could not move story #%d: %v", story.ID, err)
		}
	}

	if failed > 0 && failed == len(stories) {
		return fmt.Errorf("moving %s to %s: all %d updates rejected", from, to, failed)
	}
	return nil
}

// WriteBugReport renders the fixed-bug list for a full release: a version
// header followed by one subject line per story awaiting release.
func (s *Synchronizer) WriteBugReport(ctx context.Context, version string) error {
	awaitingID, err := s.statusID(StatusAwaitingRelease)
	if err != nil {
		return err
	}

	stories, err := s.tracker.ListStories(ctx, taiga.StoryFilter{Status: &awaitingID})
	if err != nil {
		return fmt.Errorf("listing %s stories: %w", StatusAwaitingRelease, err)
	}

	subjects := make([]string, 0, len(stories))
	for _, story := range stories {
		subjects = append(subjects, story.Subject)
	}

	content := fmt.Sprintf("Bugs Fixed in Version %s\n%s", version, strings.Join(subjects, "\n"))
	if err := os.WriteFile(s.reportPath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing bug report: %w", err)
	}
	return nil
}

// NewVersion prepares the tracker for a fresh version: beta runs promote the
// internally fixed tickets into testing, then the version tag is registered.
func (s *Synchronizer) NewVersion(ctx context.Context, isBeta bool, name string) error {
	if isBeta {
		if err := s.MoveColumn(ctx, StatusFixedInternally, StatusInTest); err != nil {
			return err
		}
	}
	if err := s.tracker.CreateTag(ctx, name, versionTagColor); err != nil {
		return fmt.Errorf("creating tag %q: %w", name, err)
	}
	return nil
}

// AttachTagged files release- and beta-tagged stories under their current
// epic, stripping the routing tag in the process. Per-story failures are
// logged and skipped.
func (s *Synchronizer) AttachTagged(ctx context.Context) error {
	epics, err := s.tracker.ListEpics(ctx)
	if err != nil {
		return fmt.Errorf("listing epics: %w", err)
	}

	for _, versionTag := range []string{"release", "beta"} {
		var current *taiga.Epic
		for i, epic := range epics {
			if epic.StatusExtraInfo.Name == "Current" &&
				strings.Contains(strings.ToLower(epic.Subject), versionTag) {
				current = &epics[i]
				break
			}
		}
		if current == nil {
			logger.Error().Str("tag", versionTag).Msg("No current epic to attach stories to")
			continue
		}

		stories, err := s.tracker.ListStories(ctx, taiga.StoryFilter{Tags: []string{versionTag}})
		if err != nil {
			return fmt.Errorf("listing %s-tagged stories: %w", versionTag, err)
		}

		for _, story := range stories {
			remaining := make([]string, 0, len(story.Tags))
			for _, tag := range story.TagNames() {
				if tag != versionTag {
					remaining = append(remaining, tag)
				}
			}

			if err := s.tracker.UpdateStory(ctx, story.ID, story.Version, taiga.StoryPatch{Tags: remaining}); err != nil {
				logger.Error().Err(err).Int("story", story.ID).Msg("Could not strip routing tag")
				continue
			}
			if err := s.tracker.AttachStoryToEpic(ctx, current.ID, story.ID); err != nil {
				logger.Error().Err(err).Int("story", story.ID).Int("epic", current.ID).
					Msg("Could not attach story to epic")
			}
		}
	}
	return nil
}

// AutoMoveTested promotes in-test stories whose tested checkbox is set,
// crediting the tester who flipped it.
func (s *Synchronizer) AutoMoveTested(ctx context.Context) error {
	inTestID, err := s.statusID(StatusInTest)
	if err != nil {
		return err
	}
	awaitingID, err := s.statusID(StatusAwaitingRelease)
	if err != nil {
		return err
	}

	stories, err := s.tracker.ListStories(ctx, taiga.StoryFilter{Status: &inTestID})
	if err != nil {
		return fmt.Errorf("listing %s stories: %w", StatusInTest, err)
	}

	for _, story := range stories {
		attrs, err := s.tracker.GetStoryAttributes(ctx, story.ID)
		if err != nil {
			logger.Error().Err(err).Int("story", story.ID).Msg("Could not read story attributes")
			continue
		}
		if !attrs.Bool(s.testedAttrID) {
			continue
		}

		comment := ""
		history, err := s.tracker.GetStoryHistory(ctx, story.ID)
		if err == nil {
			for _, entry := range history {
				if entry.ChangedAttribute(s.testedAttrID) {
					comment = fmt.Sprintf("Tested by **%s**", entry.User.Name)
					break
				}
			}
		}

		err = s.tracker.UpdateStory(ctx, story.ID, story.Version, taiga.StoryPatch{
			Status:  &awaitingID,
			Comment: comment,
		})
		if err != nil {
			logger.Error().Err(err).Int("story", story.ID).Msg("Could not promote tested story")
		}
	}
	return nil
}

// SortBacklog reorders every status column by each story's first
// non-routing tag, untagged stories last.
func (s *Synchronizer) SortBacklog(ctx context.Context) error {
	for name, statusID := range s.statuses {
		filterID := statusID
		stories, err := s.tracker.ListStories(ctx, taiga.StoryFilter{Status: &filterID})
		if err != nil {
			return fmt.Errorf("listing %s stories: %w", name, err)
		}

		sort.SliceStable(stories, func(i, j int) bool {
			return sortKey(stories[i]) < sortKey(stories[j])
		})

		ids := make([]int, 0, len(stories))
		for _, story := range stories {
			ids = append(ids, story.ID)
		}

		if err := s.tracker.BulkReorderStories(ctx, ids, statusID); err != nil {
			return fmt.Errorf("reordering %s: %w", name, err)
		}
	}
	return nil
}

func sortKey(story taiga.Story) string {
	for _, tag := range story.TagNames() {
		if tag != "release" && tag != "beta" {
			return tag
		}
	}
	return "null"
}
