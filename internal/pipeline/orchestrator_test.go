package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/andresuchdata/catalog-export/internal/csvsink"
	"github.com/andresuchdata/catalog-export/internal/domain"
	"github.com/andresuchdata/catalog-export/internal/fakestore"
	"github.com/andresuchdata/catalog-export/internal/storage"
	"github.com/andresuchdata/catalog-export/internal/uploader"
)

func newCatalogServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	r := mux.NewRouter()
	r.HandleFunc("/products", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}).Methods(http.MethodGet)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

type env struct {
	root    string
	output  string
	store   *storage.LocalClient
	catalog *fakestore.Client
}

func newEnv(t *testing.T, status int, body string) env {
	t.Helper()
	srv := newCatalogServer(t, status, body)

	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "eyusecase"), 0o755); err != nil {
		t.Fatal(err)
	}
	store, err := storage.NewLocalClient(storage.LocalConfig{Dir: root, Bucket: "eyusecase"})
	if err != nil {
		t.Fatal(err)
	}

	return env{
		root:    root,
		output:  filepath.Join(t.TempDir(), "products_data.csv"),
		store:   store,
		catalog: fakestore.NewClient(fakestore.Config{URL: srv.URL + "/products", Timeout: 5 * time.Second}),
	}
}

type fakeRecorder struct {
	runs []*Run
	err  error
}

func (r *fakeRecorder) Record(_ context.Context, run *Run) error {
	r.runs = append(r.runs, run)
	return r.err
}

type fakeObserver struct {
	runs []*Run
}

func (o *fakeObserver) ObserveRun(run *Run) { o.runs = append(o.runs, run) }

func TestRunEndToEnd(t *testing.T) {
	e := newEnv(t, http.StatusOK, `[{"id":1,"title":"Shirt","price":9.99}]`)
	rec := &fakeRecorder{}
	obs := &fakeObserver{}

	o := NewOrchestrator(e.catalog, csvsink.NewWriter(), uploader.New(e.store, uploader.WithVerify(true)),
		Options{OutputPath: e.output}, WithRecorder(rec), WithObserver(obs))

	run, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	const want = "id,title,price\n1,Shirt,9.99\n"
	local, err := os.ReadFile(e.output)
	if err != nil {
		t.Fatal(err)
	}
	if string(local) != want {
		t.Errorf("local csv = %q, want %q", local, want)
	}
	remote, err := os.ReadFile(filepath.Join(e.root, "eyusecase", "products_data.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if string(remote) != string(local) {
		t.Errorf("remote object differs from local file: %q", remote)
	}

	if run.Status != domain.StatusCompleted || !run.Succeeded() {
		t.Errorf("status = %s", run.Status)
	}
	if run.ID == "" || run.CompletedAt == nil {
		t.Errorf("run not finalized: %+v", run)
	}
	if run.Rows != 1 || run.Columns != 3 || run.Bytes != int64(len(want)) {
		t.Errorf("rows=%d columns=%d bytes=%d", run.Rows, run.Columns, run.Bytes)
	}
	if run.Bucket != "eyusecase" || run.Object != "products_data.csv" {
		t.Errorf("bucket=%q object=%q", run.Bucket, run.Object)
	}
	for _, st := range run.Stages {
		if st.Status != domain.StatusCompleted {
			t.Errorf("stage %s = %s", st.Name, st.Status)
		}
	}
	if len(rec.runs) != 1 || len(obs.runs) != 1 {
		t.Errorf("recorded %d, observed %d", len(rec.runs), len(obs.runs))
	}
}

func TestRunFetchFailureStopsBeforeWrite(t *testing.T) {
	e := newEnv(t, http.StatusInternalServerError, `{"error":"boom"}`)

	o := NewOrchestrator(e.catalog, csvsink.NewWriter(), uploader.New(e.store), Options{OutputPath: e.output})
	run, err := o.Run(context.Background())
	if domain.KindOf(err) != domain.KindNetwork {
		t.Fatalf("err = %v, want network error", err)
	}

	if _, statErr := os.Stat(e.output); !os.IsNotExist(statErr) {
		t.Errorf("csv must not exist after failed fetch: %v", statErr)
	}
	if _, statErr := os.Stat(filepath.Join(e.root, "eyusecase", "products_data.csv")); !os.IsNotExist(statErr) {
		t.Errorf("object must not exist after failed fetch: %v", statErr)
	}

	if run.Status != domain.StatusFailed || run.ErrorKind != domain.KindNetwork || run.Error == "" {
		t.Errorf("run = %+v", run)
	}
	if got := run.Stage(StageFetch).Status; got != domain.StatusFailed {
		t.Errorf("fetch stage = %s", got)
	}
	for _, name := range []Stage{StageWrite, StageUpload} {
		if got := run.Stage(name); got.Status != domain.StatusPending || got.StartedAt != nil {
			t.Errorf("%s stage = %+v, want untouched", name, got)
		}
	}
}

func TestRunUploadFailureKeepsCSV(t *testing.T) {
	e := newEnv(t, http.StatusOK, `[{"id":1}]`)
	missing, err := storage.NewLocalClient(storage.LocalConfig{Dir: e.root, Bucket: "absent"})
	if err != nil {
		t.Fatal(err)
	}

	o := NewOrchestrator(e.catalog, csvsink.NewWriter(), uploader.New(missing), Options{OutputPath: e.output})
	run, err := o.Run(context.Background())
	if domain.KindOf(err) != domain.KindUpload {
		t.Fatalf("err = %v", err)
	}
	if _, statErr := os.Stat(e.output); statErr != nil {
		t.Errorf("csv should persist after failed upload: %v", statErr)
	}
	if run.Stage(StageWrite).Status != domain.StatusCompleted || run.Stage(StageUpload).Status != domain.StatusFailed {
		t.Errorf("stages = %+v %+v", run.Stage(StageWrite), run.Stage(StageUpload))
	}
}

func TestRunSkipUpload(t *testing.T) {
	e := newEnv(t, http.StatusOK, `[]`)

	o := NewOrchestrator(e.catalog, csvsink.NewWriter(), nil, Options{OutputPath: e.output, SkipUpload: true})
	run, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Stage(StageUpload) != nil || len(run.Stages) != 2 {
		t.Errorf("stages = %d, upload must be absent", len(run.Stages))
	}
	if run.Object != "" || run.Rows != 0 {
		t.Errorf("run = %+v", run)
	}
	content, err := os.ReadFile(e.output)
	if err != nil {
		t.Fatal(err)
	}
	if len(content) != 0 {
		t.Errorf("empty catalog should produce an empty file, got %q", content)
	}
}

func TestRunRecorderFailureDoesNotFailRun(t *testing.T) {
	e := newEnv(t, http.StatusOK, `[{"id":1}]`)
	rec := &fakeRecorder{err: errors.New("redis unavailable")}

	o := NewOrchestrator(e.catalog, csvsink.NewWriter(), uploader.New(e.store),
		Options{OutputPath: e.output, ObjectName: "exports/catalog.csv"}, WithRecorder(rec))
	run, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != domain.StatusCompleted || len(rec.runs) != 1 {
		t.Errorf("status = %s, recorded = %d", run.Status, len(rec.runs))
	}
	if _, err := os.Stat(filepath.Join(e.root, "eyusecase", "exports", "catalog.csv")); err != nil {
		t.Errorf("object with explicit name missing: %v", err)
	}
}

func TestStageTiming(t *testing.T) {
	e := newEnv(t, http.StatusOK, `[{"id":1}]`)
	o := NewOrchestrator(e.catalog, csvsink.NewWriter(), nil, Options{OutputPath: e.output, SkipUpload: true})

	base := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	tick := 0
	o.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	run, err := o.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	// now: run start, fetch start/end, write start/end, run end
	if run.Duration() != 5*time.Second {
		t.Errorf("run duration = %s", run.Duration())
	}
	if d := run.Stage(StageFetch).Duration; d != time.Second {
		t.Errorf("fetch duration = %s", d)
	}
}

func TestStageRunsOnce(t *testing.T) {
	o := NewOrchestrator(nil, nil, nil, Options{OutputPath: "products_data.csv", SkipUpload: true})
	run := o.newRun()

	calls := 0
	fn := func() error {
		calls++
		return nil
	}
	if err := o.stage(run, StageFetch, fn); err != nil {
		t.Fatal(err)
	}
	if err := o.stage(run, StageFetch, fn); err == nil {
		t.Error("a completed stage must not run again")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if st := run.Stage(StageFetch); st.Status != domain.StatusCompleted {
		t.Errorf("stage status = %q", st.Status)
	}
}
