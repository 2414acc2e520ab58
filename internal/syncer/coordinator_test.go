package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hubofallthings/hatsync/internal/cache"
	"github.com/hubofallthings/hatsync/internal/database/testutil"
	"github.com/hubofallthings/hatsync/internal/hat"
	"github.com/hubofallthings/hatsync/internal/records"
	appErrors "github.com/hubofallthings/hatsync/pkg/errors"
)

const testDomain = "alice.hubofallthings.net"

type response struct {
	page hat.RawPage
	err  error
}

// scriptedSource replays canned responses and records the tokens it was called with.
type scriptedSource struct {
	mu        sync.Mutex
	responses []response
	tokens    []string
	gate      chan struct{}
}

func (s *scriptedSource) Fetch(ctx context.Context, res hat.Resource, token string, opts hat.FetchOptions) (hat.RawPage, error) {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens = append(s.tokens, token)
	if len(s.responses) == 0 {
		return hat.RawPage{}, errors.New("unexpected fetch")
	}
	next := s.responses[0]
	s.responses = s.responses[1:]
	return next.page, next.err
}

func (s *scriptedSource) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

type fakeProvisioner struct {
	calls   int
	tokens  []string
	renewed string
	err     error
	schema  records.TableSchema
}

func (p *fakeProvisioner) CreateTable(ctx context.Context, res hat.Resource, schema records.TableSchema, token string) (string, error) {
	p.calls++
	p.tokens = append(p.tokens, token)
	p.schema = schema
	return p.renewed, p.err
}

func note(message string) records.Note {
	return records.Note{
		Message:     message,
		Kind:        "note",
		CreatedTime: time.Date(2017, 5, 4, 3, 2, 1, 0, time.UTC),
		Author:      records.NoteAuthor{Phata: testDomain},
	}
}

func noteRecords(t *testing.T, messages ...string) []hat.Record {
	t.Helper()
	out := make([]hat.Record, 0, len(messages))
	for i, msg := range messages {
		data, err := json.Marshal(note(msg))
		require.NoError(t, err)
		out = append(out, hat.Record{Endpoint: "rumpel/notablesv1", RecordID: fmt.Sprint(i), Data: data})
	}
	return out
}

func malformed() hat.Record {
	return hat.Record{Endpoint: "rumpel/notablesv1", RecordID: "bad", Data: json.RawMessage(`{"message":17}`)}
}

type fixture struct {
	store       *cache.DatabaseStore
	source      *scriptedSource
	provisioner *fakeProvisioner
	coordinator *Coordinator[records.Note]
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	return newFixtureWithStore(t, nil, opts...)
}

func newFixtureWithStore(t *testing.T, storeOpts []cache.Option, opts ...Option) *fixture {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := cache.NewDatabaseStore(db, storeOpts...)
	source := &scriptedSource{}
	provisioner := &fakeProvisioner{}
	fetcher := hat.NewTypedFetcher[records.Note](source, records.Notes.Codec, records.Notes.Name, hat.FetchOptions{})

	return &fixture{
		store:       store,
		source:      source,
		provisioner: provisioner,
		coordinator: New[records.Note](records.Notes, store, fetcher, provisioner, opts...),
	}
}

func (f *fixture) seed(t *testing.T, key string, notes ...records.Note) []byte {
	t.Helper()
	payload, err := records.EncodeList[records.Note](records.Notes.Codec, notes)
	require.NoError(t, err)
	require.NoError(t, f.store.Put(context.Background(), records.Notes.Name, cache.ScopedKey(testDomain, key), payload, nil))
	return payload
}

func (f *fixture) cached(t *testing.T, key string) ([]records.Note, bool) {
	t.Helper()
	entry, ok, err := f.store.Get(context.Background(), records.Notes.Name, cache.ScopedKey(testDomain, key))
	require.NoError(t, err)
	if !ok {
		return nil, false
	}
	items, err := records.DecodeList[records.Note](records.Notes.Codec, entry.Payload)
	require.NoError(t, err)
	return items, true
}

func request(key string) Request {
	return Request{UniqueKey: key, Domain: testDomain, Token: "token-0"}
}

func TestSyncCacheHitMakesNoRemoteCalls(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "all", note("cached one"), note("cached two"))

	result, err := f.coordinator.Sync(context.Background(), request("all"))
	require.NoError(t, err)

	require.Equal(t, SourceCache, result.Source)
	require.Len(t, result.Items, 2)
	require.Zero(t, result.RemoteCalls())
	require.Zero(t, f.source.calls())
	require.Zero(t, f.provisioner.calls)
	require.Equal(t, []State{StateIdle, StateCacheLookup, StateDone}, result.Path)
	require.Equal(t, "token-0", result.Token)
	require.False(t, result.TokenRenewed)
}

func TestSyncMissFetchesOnceAndWritesCache(t *testing.T) {
	f := newFixture(t)
	f.source.responses = []response{{page: hat.RawPage{Records: noteRecords(t, "a", "b")}}}

	result, err := f.coordinator.Sync(context.Background(), request("all"))
	require.NoError(t, err)

	require.Equal(t, SourceRemote, result.Source)
	require.Equal(t, 1, result.FetchCalls)
	require.Equal(t, 1, f.source.calls())
	require.Zero(t, f.provisioner.calls)
	require.NoError(t, result.CacheErr)
	require.NotNil(t, result.LastSynced)
	require.Equal(t, []State{StateIdle, StateCacheLookup, StateRemoteFetch, StateCacheWrite, StateDone}, result.Path)

	cached, ok := f.cached(t, "all")
	require.True(t, ok)
	require.Equal(t, result.Items, cached)
}

func TestSyncExpiredEntryIsRefetched(t *testing.T) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := newFixtureWithStore(t, []cache.Option{cache.WithClock(func() time.Time { return clock })})

	payload, err := records.EncodeList[records.Note](records.Notes.Codec, []records.Note{note("stale")})
	require.NoError(t, err)
	require.NoError(t, f.store.Put(context.Background(), records.Notes.Name, cache.ScopedKey(testDomain, "all"), payload, cache.ExpiryAfter(clock, time.Minute)))

	clock = clock.Add(time.Hour)
	f.source.responses = []response{{page: hat.RawPage{Records: noteRecords(t, "fresh")}}}

	result, err := f.coordinator.Sync(context.Background(), request("all"))
	require.NoError(t, err)
	require.Equal(t, SourceRemote, result.Source)
	require.Equal(t, 1, f.source.calls())
	require.Equal(t, "fresh", result.Items[0].Message)
}

func TestSyncThreeValidOneMalformed(t *testing.T) {
	f := newFixture(t)
	raw := append(noteRecords(t, "one", "two"), malformed())
	raw = append(raw, noteRecords(t, "three")...)
	f.source.responses = []response{{page: hat.RawPage{Records: raw}}}

	result, err := f.coordinator.Sync(context.Background(), request("all"))
	require.NoError(t, err)
	require.Len(t, result.Items, 3)
	require.Equal(t, 1, result.Skipped)

	cached, ok := f.cached(t, "all")
	require.True(t, ok)
	require.Len(t, cached, 3)
	require.Equal(t, []string{"one", "two", "three"}, []string{cached[0].Message, cached[1].Message, cached[2].Message})
}

func TestSyncProvisionThenRetry(t *testing.T) {
	f := newFixture(t)
	f.source.responses = []response{
		{err: appErrors.ErrTableDoesNotExist},
		{page: hat.RawPage{Records: noteRecords(t, "first", "second")}},
	}

	result, err := f.coordinator.Sync(context.Background(), request("all"))
	require.NoError(t, err)

	require.True(t, result.Provisioned)
	require.Equal(t, 2, result.FetchCalls)
	require.Equal(t, 2, f.source.calls())
	require.Equal(t, 1, f.provisioner.calls)
	require.Equal(t, records.Notes.Schema, f.provisioner.schema)
	require.Equal(t, 3, result.RemoteCalls())
	require.Equal(t, []State{
		StateIdle, StateCacheLookup, StateRemoteFetch, StateProvision, StateRemoteFetch, StateCacheWrite, StateDone,
	}, result.Path)

	cached, ok := f.cached(t, "all")
	require.True(t, ok)
	require.Len(t, cached, 2)
}

func TestSyncSecondTableMissingIsFatal(t *testing.T) {
	f := newFixture(t)
	f.source.responses = []response{
		{err: appErrors.ErrTableDoesNotExist},
		{err: appErrors.ErrTableDoesNotExist},
		{page: hat.RawPage{Records: noteRecords(t, "never")}},
	}

	result, err := f.coordinator.Sync(context.Background(), request("all"))
	require.ErrorIs(t, err, appErrors.ErrTableDoesNotExist)
	require.Equal(t, 2, f.source.calls(), "no third fetch")
	require.Equal(t, 1, f.provisioner.calls)
	require.Equal(t, StateReportFailure, result.Path[len(result.Path)-2])

	_, ok := f.cached(t, "all")
	require.False(t, ok)
}

func TestSyncProvisionFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	f.provisioner.err = errors.New("boom")
	f.source.responses = []response{{err: appErrors.ErrTableDoesNotExist}}

	_, err := f.coordinator.Sync(context.Background(), request("all"))
	require.ErrorIs(t, err, appErrors.ErrProvisionFailed)
	require.Equal(t, 1, f.source.calls())
}

func TestSyncOtherErrorsAreNotRetried(t *testing.T) {
	cases := map[string]*appErrors.AppError{
		"auth":    appErrors.ErrUnauthorized,
		"network": appErrors.ErrNetwork,
		"decode":  appErrors.ErrDecode,
	}
	for name, failure := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.source.responses = []response{{err: failure.WithInternal(errors.New(name))}}

			_, err := f.coordinator.Sync(context.Background(), request("all"))
			require.ErrorIs(t, err, failure)
			require.Equal(t, 1, f.source.calls())
			require.Zero(t, f.provisioner.calls)
		})
	}
}

func TestSyncAllMalformedIsDecodeError(t *testing.T) {
	f := newFixture(t)
	f.source.responses = []response{{page: hat.RawPage{Records: []hat.Record{malformed(), malformed()}}}}

	_, err := f.coordinator.Sync(context.Background(), request("all"))
	require.ErrorIs(t, err, appErrors.ErrDecode)

	_, ok := f.cached(t, "all")
	require.False(t, ok)
}

func TestSyncThreadsRenewedTokens(t *testing.T) {
	f := newFixture(t)
	f.source.responses = []response{
		{page: hat.RawPage{Token: "token-1"}, err: appErrors.ErrTableDoesNotExist},
		{page: hat.RawPage{Records: noteRecords(t, "x"), Token: "token-3"}},
	}
	f.provisioner.renewed = "token-2"

	result, err := f.coordinator.Sync(context.Background(), request("all"))
	require.NoError(t, err)

	require.Equal(t, []string{"token-0", "token-2"}, f.source.tokens)
	require.Equal(t, []string{"token-1"}, f.provisioner.tokens)
	require.Equal(t, "token-3", result.Token)
	require.True(t, result.TokenRenewed)
}

func TestSyncReturnsRenewedTokenOnFailure(t *testing.T) {
	f := newFixture(t)
	f.source.responses = []response{{page: hat.RawPage{Token: "token-1"}, err: appErrors.ErrUnauthorized}}

	result, err := f.coordinator.Sync(context.Background(), request("all"))
	require.ErrorIs(t, err, appErrors.ErrUnauthorized)
	require.Equal(t, "token-1", result.Token)
	require.True(t, result.TokenRenewed)
}

func TestSyncCorruptCacheIsInvalidatedAndRefetched(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Put(context.Background(), records.Notes.Name, cache.ScopedKey(testDomain, "all"), []byte(`[{"kind":"note"}]`), nil))
	f.source.responses = []response{{page: hat.RawPage{Records: noteRecords(t, "fresh")}}}

	result, err := f.coordinator.Sync(context.Background(), request("all"))
	require.NoError(t, err)
	require.Equal(t, SourceRemote, result.Source)

	cached, ok := f.cached(t, "all")
	require.True(t, ok)
	require.Equal(t, "fresh", cached[0].Message)
}

func TestSyncForceSkipsCache(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "all", note("cached"))
	f.source.responses = []response{{page: hat.RawPage{Records: noteRecords(t, "remote")}}}

	req := request("all")
	req.Force = true
	result, err := f.coordinator.Sync(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, SourceRemote, result.Source)
	require.NotContains(t, result.Path, StateCacheLookup)
	require.Equal(t, "remote", result.Items[0].Message)
}

func TestSyncRequiresUniqueKey(t *testing.T) {
	f := newFixture(t)

	_, err := f.coordinator.Sync(context.Background(), Request{Domain: testDomain})
	require.ErrorIs(t, err, appErrors.ErrBadRequest)
}

func TestSyncAsyncDeliversOutcome(t *testing.T) {
	f := newFixture(t)
	f.source.responses = []response{{page: hat.RawPage{Records: noteRecords(t, "async")}}}

	select {
	case outcome := <-f.coordinator.SyncAsync(context.Background(), request("all")):
		require.NoError(t, outcome.Err)
		require.Len(t, outcome.Result.Items, 1)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for async outcome")
	}
}

func TestSyncAsyncCompletesWhenAbandoned(t *testing.T) {
	f := newFixture(t)
	f.source.responses = []response{{page: hat.RawPage{Records: noteRecords(t, "abandoned")}}}

	_ = f.coordinator.SyncAsync(context.Background(), request("all"))

	require.Eventually(t, func() bool {
		_, ok, err := f.store.Get(context.Background(), records.Notes.Name, cache.ScopedKey(testDomain, "all"))
		return err == nil && ok
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSyncConcurrentDuplicatesWithoutDedupe(t *testing.T) {
	f := newFixture(t)
	f.source.responses = []response{
		{page: hat.RawPage{Records: noteRecords(t, "a")}},
		{page: hat.RawPage{Records: noteRecords(t, "b")}},
	}
	f.source.gate = make(chan struct{})

	first := f.coordinator.SyncAsync(context.Background(), request("all"))
	second := f.coordinator.SyncAsync(context.Background(), request("all"))
	close(f.source.gate)

	for _, ch := range []<-chan Outcome[records.Note]{first, second} {
		outcome := <-ch
		require.NoError(t, outcome.Err)
	}
	require.Equal(t, 2, f.source.calls())

	cached, ok := f.cached(t, "all")
	require.True(t, ok)
	require.Len(t, cached, 1)
}

func TestSyncDedupeCollapsesConcurrentAttempts(t *testing.T) {
	f := newFixture(t, WithDedupe(true))
	f.source.responses = []response{{page: hat.RawPage{Records: noteRecords(t, "shared")}}}
	f.source.gate = make(chan struct{})

	first := f.coordinator.SyncAsync(context.Background(), request("all"))
	// give the first attempt time to register in the flight group
	time.Sleep(50 * time.Millisecond)
	second := f.coordinator.SyncAsync(context.Background(), request("all"))
	time.Sleep(50 * time.Millisecond)
	close(f.source.gate)

	a, b := <-first, <-second
	require.NoError(t, a.Err)
	require.NoError(t, b.Err)
	require.Equal(t, 1, f.source.calls())
	require.Equal(t, a.Result.AttemptID, b.Result.AttemptID)

	a.Result.Items[0].Message = "changed"
	require.Equal(t, "shared", b.Result.Items[0].Message)
}

func TestSyncDedupeKeepsDifferentTokensApart(t *testing.T) {
	f := newFixture(t, WithDedupe(true))
	f.source.responses = []response{
		{page: hat.RawPage{Records: noteRecords(t, "one")}},
		{page: hat.RawPage{Records: noteRecords(t, "two")}},
	}
	f.source.gate = make(chan struct{})

	other := request("all")
	other.Token = "token-other"
	first := f.coordinator.SyncAsync(context.Background(), request("all"))
	time.Sleep(50 * time.Millisecond)
	second := f.coordinator.SyncAsync(context.Background(), other)
	time.Sleep(50 * time.Millisecond)
	close(f.source.gate)

	a, b := <-first, <-second
	require.NoError(t, a.Err)
	require.NoError(t, b.Err)
	require.Equal(t, 2, f.source.calls())
	require.NotEqual(t, a.Result.AttemptID, b.Result.AttemptID)
}

func TestSyncCacheIsScopedByDomain(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "all", note("alice-private"))
	f.source.responses = []response{{page: hat.RawPage{Records: noteRecords(t, "bob-note")}}}

	bob := Request{UniqueKey: "all", Domain: "bob.hubofallthings.net", Token: "bob-token"}
	result, err := f.coordinator.Sync(context.Background(), bob)
	require.NoError(t, err)
	require.Equal(t, SourceRemote, result.Source)
	require.Equal(t, 1, result.RemoteCalls())
	require.Len(t, result.Items, 1)
	require.Equal(t, "bob-note", result.Items[0].Message)

	alice, ok := f.cached(t, "all")
	require.True(t, ok)
	require.Equal(t, "alice-private", alice[0].Message)

	again, err := f.coordinator.Sync(context.Background(), bob)
	require.NoError(t, err)
	require.Equal(t, SourceCache, again.Source)
	require.Equal(t, "bob-note", again.Items[0].Message)
}

func TestOutcomeOf(t *testing.T) {
	require.Equal(t, "failed", OutcomeOf(Result[records.Note]{}, errors.New("x")))
	require.Equal(t, "cache", OutcomeOf(Result[records.Note]{Source: SourceCache}, nil))
	require.Equal(t, "provisioned", OutcomeOf(Result[records.Note]{Source: SourceRemote, Provisioned: true}, nil))
	require.Equal(t, "remote", OutcomeOf(Result[records.Note]{Source: SourceRemote}, nil))
}
