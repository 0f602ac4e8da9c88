package trackersync_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/user/modforge/internal/config"
	"github.com/user/modforge/internal/runlog"
	"github.com/user/modforge/internal/trackersync"
	"github.com/user/modforge/pkg/taiga"
)

var testStatuses = map[string]int{
	"fixed-internally": 1,
	"in-test":          2,
	"awaiting-release": 3,
	"done":             4,
}

var testEpicStatuses = map[string]int{
	"current": 10,
	"old":     11,
}

type storyUpdate struct {
	ID      int
	Version int
	Patch   taiga.StoryPatch
}

type epicUpdate struct {
	ID      int
	Version int
	Patch   taiga.EpicPatch
}

type fakeTracker struct {
	stories []taiga.Story
	epics   []taiga.Epic

	storyUpdates  []storyUpdate
	epicUpdates   []epicUpdate
	createdEpics  []string
	createdTags   []string
	attached      [][2]int
	reordered     map[int][]int
	attributes    map[int]*taiga.StoryAttributes
	history       map[int][]taiga.HistoryEntry
	failStoryIDs  map[int]error
	listEpicsErr  error
	createEpicErr error
}

func (f *fakeTracker) ListStories(ctx context.Context, filter taiga.StoryFilter) ([]taiga.Story, error) {
	var out []taiga.Story
	for _, s := range f.stories {
		if filter.Status != nil && s.Status != *filter.Status {
			continue
		}
		if len(filter.Tags) > 0 {
			match := false
			for _, want := range filter.Tags {
				for _, have := range s.TagNames() {
					if want == have {
						match = true
					}
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeTracker) ListEpics(ctx context.Context) ([]taiga.Epic, error) {
	return f.epics, f.listEpicsErr
}

func (f *fakeTracker) UpdateStory(ctx context.Context, storyID, version int, patch taiga.StoryPatch) error {
	if err, ok := f.failStoryIDs[storyID]; ok {
		return err
	}
	f.storyUpdates = append(f.storyUpdates, storyUpdate{ID: storyID, Version: version, Patch: patch})
	return nil
}

func (f *fakeTracker) UpdateEpic(ctx context.Context, epicID, version int, patch taiga.EpicPatch) error {
	f.epicUpdates = append(f.epicUpdates, epicUpdate{ID: epicID, Version: version, Patch: patch})
	return nil
}

func (f *fakeTracker) CreateEpic(ctx context.Context, name string, status int) (*taiga.Epic, error) {
	if f.createEpicErr != nil {
		return nil, f.createEpicErr
	}
	f.createdEpics = append(f.createdEpics, name)
	return &taiga.Epic{ID: 1000 + len(f.createdEpics), Subject: name, Status: status}, nil
}

func (f *fakeTracker) CreateTag(ctx context.Context, name, color string) error {
	f.createdTags = append(f.createdTags, fmt.Sprintf("%s|%s", name, color))
	return nil
}

func (f *fakeTracker) AttachStoryToEpic(ctx context.Context, epicID, storyID int) error {
	f.attached = append(f.attached, [2]int{epicID, storyID})
	return nil
}

func (f *fakeTracker) BulkReorderStories(ctx context.Context, storyIDs []int, status int) error {
	if f.reordered == nil {
		f.reordered = make(map[int][]int)
	}
	f.reordered[status] = storyIDs
	return nil
}

func (f *fakeTracker) GetStoryAttributes(ctx context.Context, storyID int) (*taiga.StoryAttributes, error) {
	if attrs, ok := f.attributes[storyID]; ok {
		return attrs, nil
	}
	return &taiga.StoryAttributes{}, nil
}

func (f *fakeTracker) GetStoryHistory(ctx context.Context, storyID int) ([]taiga.HistoryEntry, error) {
	return f.history[storyID], nil
}

func newSync(t *testing.T, tracker *fakeTracker) (*trackersync.Synchronizer, string) {
	t.Helper()
	report := filepath.Join(t.TempDir(), "report.txt")
	cfg := config.TrackerConfig{
		StatusMappings:    testStatuses,
		EpicStatuses:      testEpicStatuses,
		TestedAttributeID: 44202,
	}
	log := runlog.New(filepath.Join(t.TempDir(), "log.txt"))
	return trackersync.New(tracker, cfg, report, log), report
}

func TestEpicName(t *testing.T) {
	require.Equal(t, "1.0 Beta 2 Bugs", trackersync.EpicName(true, "1.0", "2"))
	require.Equal(t, "4.7 Release Bugs", trackersync.EpicName(false, "4.7", ""))
}

func TestSyncRelease_Beta_MovesFixedToInTest(t *testing.T) {
	tracker := &fakeTracker{
		stories: []taiga.Story{
			{ID: 1, Version: 5, Status: 1},
			{ID: 2, Version: 2, Status: 1},
			{ID: 3, Version: 1, Status: 3},
		},
	}
	sync, _ := newSync(t, tracker)

	err := sync.SyncRelease(context.Background(), true, "1.0", "2")

	require.NoError(t, err)
	require.Equal(t, []string{"1.0 Beta 2 Bugs"}, tracker.createdEpics)
	require.Len(t, tracker.storyUpdates, 2)
	for _, update := range tracker.storyUpdates {
		require.Equal(t, 2, *update.Patch.Status)
	}
}

func TestSyncRelease_EpicCreationIdempotent(t *testing.T) {
	tracker := &fakeTracker{
		epics: []taiga.Epic{
			{ID: 7, Version: 1, Subject: "1.0 Beta 2 Bugs", StatusExtraInfo: taiga.StatusInfo{Name: "Current"}},
		},
	}
	sync, _ := newSync(t, tracker)

	err := sync.SyncRelease(context.Background(), true, "1.0", "2")

	require.NoError(t, err)
	require.Empty(t, tracker.createdEpics)
	require.Empty(t, tracker.epicUpdates)
}

func TestSyncRelease_ClosesPreviousCurrentEpic(t *testing.T) {
	tracker := &fakeTracker{
		epics: []taiga.Epic{
			{ID: 5, Version: 4, Subject: "0.9 Beta 1 Bugs", StatusExtraInfo: taiga.StatusInfo{Name: "Current"}},
			{ID: 6, Version: 2, Subject: "0.8 Release Bugs", StatusExtraInfo: taiga.StatusInfo{Name: "Current"}},
		},
	}
	sync, _ := newSync(t, tracker)

	err := sync.SyncRelease(context.Background(), true, "1.0", "2")

	require.NoError(t, err)
	// Only the beta-tagged current epic is closed.
	require.Len(t, tracker.epicUpdates, 1)
	require.Equal(t, 5, tracker.epicUpdates[0].ID)
	require.Equal(t, 4, tracker.epicUpdates[0].Version)
	require.Equal(t, 11, *tracker.epicUpdates[0].Patch.Status)
	require.Equal(t, 3, *tracker.epicUpdates[0].Patch.Order)
	require.Equal(t, []string{"1.0 Beta 2 Bugs"}, tracker.createdEpics)
}

func TestSyncRelease_NoPreviousEpicIsNotFatal(t *testing.T) {
	tracker := &fakeTracker{}
	sync, _ := newSync(t, tracker)

	err := sync.SyncRelease(context.Background(), true, "1.0", "2")

	require.NoError(t, err)
	require.Equal(t, []string{"1.0 Beta 2 Bugs"}, tracker.createdEpics)
}

func TestSyncRelease_FullRelease_WritesReportAndCloses(t *testing.T) {
	tracker := &fakeTracker{
		stories: []taiga.Story{
			{ID: 1, Version: 1, Status: 3, Subject: "Crash on load"},
			{ID: 2, Version: 2, Status: 3, Subject: "Broken texture"},
		},
	}
	sync, report := newSync(t, tracker)

	err := sync.SyncRelease(context.Background(), false, "4.7", "")

	require.NoError(t, err)
	data, err := os.ReadFile(report)
	require.NoError(t, err)
	require.Equal(t, "Bugs Fixed in Version 4.7\nCrash on load\nBroken texture", string(data))

	require.Len(t, tracker.storyUpdates, 2)
	for _, update := range tracker.storyUpdates {
		require.Equal(t, 4, *update.Patch.Status)
	}
}

func TestMoveColumn_PerStoryIsolation(t *testing.T) {
	tracker := &fakeTracker{
		stories: []taiga.Story{
			{ID: 1, Version: 1, Status: 1},
			{ID: 2, Version: 1, Status: 1},
			{ID: 3, Version: 1, Status: 1},
		},
		failStoryIDs: map[int]error{2: errors.New("stale version")},
	}
	sync, _ := newSync(t, tracker)

	err := sync.MoveColumn(context.Background(), "fixed-internally", "in-test")

	require.NoError(t, err)
	require.Len(t, tracker.storyUpdates, 2)
	require.Equal(t, 1, tracker.storyUpdates[0].ID)
	require.Equal(t, 3, tracker.storyUpdates[1].ID)
}

func TestMoveColumn_AllRejectedFails(t *testing.T) {
	tracker := &fakeTracker{
		stories: []taiga.Story{
			{ID: 1, Version: 1, Status: 1},
			{ID: 2, Version: 1, Status: 1},
		},
		failStoryIDs: map[int]error{
			1: errors.New("stale version"),
			2: errors.New("stale version"),
		},
	}
	sync, _ := newSync(t, tracker)

	err := sync.MoveColumn(context.Background(), "fixed-internally", "in-test")

	require.Error(t, err)
	require.Contains(t, err.Error(), "all 2 updates rejected")
}

func TestMoveColumn_UnknownStatus(t *testing.T) {
	sync, _ := newSync(t, &fakeTracker{})

	err := sync.MoveColumn(context.Background(), "no-such-column", "in-test")

	require.Error(t, err)
	require.Contains(t, err.Error(), "no-such-column")
}

func TestNewVersion_Beta(t *testing.T) {
	tracker := &fakeTracker{
		stories: []taiga.Story{{ID: 1, Version: 1, Status: 1}},
	}
	sync, _ := newSync(t, tracker)

	err := sync.NewVersion(context.Background(), true, "1.1")

	require.NoError(t, err)
	require.Len(t, tracker.storyUpdates, 1)
	require.Equal(t, []string{"1.1|#4C566A"}, tracker.createdTags)
}

func TestAutoMoveTested_PromotesCheckedStories(t *testing.T) {
	tracker := &fakeTracker{
		stories: []taiga.Story{
			{ID: 1, Version: 1, Status: 2},
			{ID: 2, Version: 3, Status: 2},
		},
		attributes: map[int]*taiga.StoryAttributes{
			2: {Values: map[string]json.RawMessage{"44202": json.RawMessage("true")}},
		},
		history: map[int][]taiga.HistoryEntry{
			2: {{
				User: taiga.HistoryUser{Name: "Radagast"},
				Diff: taiga.HistoryDiff{CustomAttributes: [][]taiga.CustomAttribute{
					nil,
					{{ID: 44202, Value: json.RawMessage("true")}},
				}},
			}},
		},
	}
	sync, _ := newSync(t, tracker)

	err := sync.AutoMoveTested(context.Background())

	require.NoError(t, err)
	require.Len(t, tracker.storyUpdates, 1)
	require.Equal(t, 2, tracker.storyUpdates[0].ID)
	require.Equal(t, 3, *tracker.storyUpdates[0].Patch.Status)
	require.Equal(t, "Tested by **Radagast**", tracker.storyUpdates[0].Patch.Comment)
}

func TestAttachTagged_StripsTagAndAttaches(t *testing.T) {
	tracker := &fakeTracker{
		epics: []taiga.Epic{
			{ID: 50, Version: 1, Subject: "1.0 Beta 2 Bugs", StatusExtraInfo: taiga.StatusInfo{Name: "Current"}},
		},
		stories: []taiga.Story{
			{ID: 9, Version: 2, Status: 2, Tags: [][]string{{"beta", ""}, {"gondor", ""}}},
		},
	}
	sync, _ := newSync(t, tracker)

	err := sync.AttachTagged(context.Background())

	require.NoError(t, err)
	require.Len(t, tracker.storyUpdates, 1)
	require.Equal(t, []string{"gondor"}, tracker.storyUpdates[0].Patch.Tags)
	require.Equal(t, [][2]int{{50, 9}}, tracker.attached)
}

func TestSortBacklog_OrdersByFirstContentTag(t *testing.T) {
	tracker := &fakeTracker{
		stories: []taiga.Story{
			{ID: 1, Version: 1, Status: 2, Tags: [][]string{{"rohan", ""}}},
			{ID: 2, Version: 1, Status: 2, Tags: [][]string{{"beta", ""}}},
			{ID: 3, Version: 1, Status: 2, Tags: [][]string{{"gondor", ""}}},
		},
	}
	sync, _ := newSync(t, tracker)

	err := sync.SortBacklog(context.Background())

	require.NoError(t, err)
	// gondor < null < rohan: untagged (routing-only) stories sort under "null".
	require.Equal(t, []int{3, 2, 1}, tracker.reordered[2])
}
