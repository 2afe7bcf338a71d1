// Package syncharness runs devices against an in-process inspection server
// so sync behaviour can be tested end to end over real HTTP.
package syncharness

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/mattn/go-sqlite3"

	"github.com/marcus/roofsync/internal/conflict"
	"github.com/marcus/roofsync/internal/db"
	"github.com/marcus/roofsync/internal/models"
	syncengine "github.com/marcus/roofsync/internal/sync"
	"github.com/marcus/roofsync/internal/syncclient"
)

// APIKey is the bearer token every harness device presents
const APIKey = "harness-key"

// epoch is where every device clock starts
var epoch = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

// Clock is a settable device clock
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// Now returns the current device time
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Device is one client installation with its own store and engine
type Device struct {
	ID     string
	Store  *db.DB
	Clock  *Clock
	Client *syncclient.Client
	Engine *syncengine.Engine
}

// blob is a stored photo binary
type blob struct {
	contentType string
	data        []byte
}

// Harness holds the fake server and the devices talking to it
type Harness struct {
	t       *testing.T
	Server  *httptest.Server
	Devices map[string]*Device

	// Offline makes every endpoint answer 503
	Offline atomic.Bool
	// Reject, when set, returns a reason for refusing an uploaded report
	Reject func(agg *models.ReportAggregate) string
	// TargetTTL is how long photo upload targets stay valid
	TargetTTL time.Duration

	mu         sync.Mutex
	reports    map[string]*models.ReportAggregate
	photoIndex map[string]string
	blobs      map[string]blob
	lastMarker time.Time
	uploads    int
	user       models.User
	checklists []syncclient.ReferenceItem
}

// NewHarness starts a server and numDevices devices named device-A,
// device-B and so on, all using the given conflict policy.
func NewHarness(t *testing.T, numDevices int, policy syncengine.Policy) *Harness {
	t.Helper()
	h := &Harness{
		t:          t,
		Devices:    make(map[string]*Device),
		TargetTTL:  15 * time.Minute,
		reports:    make(map[string]*models.ReportAggregate),
		photoIndex: make(map[string]string),
		blobs:      make(map[string]blob),
		user:       models.User{ID: "usr-1", Name: "Dana Field", Email: "dana@example.com"},
		checklists: []syncclient.ReferenceItem{{
			ID:        "chk-roof",
			Name:      "Roof compliance",
			UpdatedAt: epoch,
			Data:      json.RawMessage(`{"items":["flashing","gutters","ventilation"]}`),
		}},
	}

	h.Server = httptest.NewServer(h.router())
	t.Cleanup(h.Server.Close)

	for i := 0; i < numDevices; i++ {
		id := fmt.Sprintf("device-%c", 'A'+i)
		h.Devices[id] = h.newDevice(id, policy)
	}
	return h
}

func (h *Harness) newDevice(id string, policy syncengine.Policy) *Device {
	h.t.Helper()
	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		h.t.Fatalf("open %s store: %v", id, err)
	}
	// a single connection keeps the in-memory database alive and shared
	conn.SetMaxOpenConns(1)
	store, err := db.Wrap(conn)
	if err != nil {
		h.t.Fatalf("init %s store: %v", id, err)
	}
	h.t.Cleanup(func() { store.Close() })

	clock := &Clock{now: epoch}
	store.SetClock(clock.Now)
	client := syncclient.New(h.Server.URL, APIKey, id)
	engine := syncengine.New(store, client, syncengine.Options{
		DeviceID:          id,
		Policy:            policy,
		UploadConcurrency: 2,
		PhotoTimeout:      10 * time.Second,
		ProbeTimeout:      2 * time.Second,
	})
	return &Device{ID: id, Store: store, Clock: clock, Client: client, Engine: engine}
}

// Device returns the named device or fails the test
func (h *Harness) Device(id string) *Device {
	h.t.Helper()
	d, ok := h.Devices[id]
	if !ok {
		h.t.Fatalf("unknown device %s", id)
	}
	return d
}

// ---------------------------------------------------------------------------
// Fake server
// ---------------------------------------------------------------------------

func (h *Harness) router() http.Handler {
	r := mux.NewRouter()
	r.Use(h.offlineMiddleware)

	r.HandleFunc("/healthz", h.handleHealth).Methods("GET")
	r.HandleFunc("/blobs/{id}", h.handleBlobPut).Methods("PUT")

	api := r.PathPrefix("/v1").Subrouter()
	api.Use(h.authMiddleware)
	api.HandleFunc("/bootstrap", h.handleBootstrap).Methods("GET")
	api.HandleFunc("/sync/upload", h.handleUpload).Methods("POST")
	api.HandleFunc("/reports/{id}", h.handleReport).Methods("GET")
	api.HandleFunc("/photos/upload-targets", h.handlePhotoTargets).Methods("POST")
	return r
}

func (h *Harness) offlineMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Offline.Load() {
			writeError(w, http.StatusServiceUnavailable, "unavailable", "server offline")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Harness) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+APIKey {
			writeError(w, http.StatusUnauthorized, "unauthorized", "bad api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Harness) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, syncclient.HealthResponse{Status: "ok"})
}

func (h *Harness) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if s := r.URL.Query().Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid since")
			return
		}
		since = t
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	resp := syncclient.BootstrapResponse{
		AsOf:      h.tick(),
		User:      h.user,
		Reference: syncclient.ReferencePayload{Checklists: h.checklists},
	}
	for _, id := range h.sortedReportIDs() {
		agg := h.reports[id]
		if agg.Report.ServerUpdatedAt.After(since) {
			resp.Reports = append(resp.Reports, *agg)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Harness) handleUpload(w http.ResponseWriter, r *http.Request) {
	var req syncclient.UploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.uploads++
	marker := h.tick()
	resp := syncclient.UploadResponse{ServerTime: marker, SyncedIDs: []string{}}

	for i := range req.Reports {
		agg := req.Reports[i]
		id := agg.Report.ID
		if h.Reject != nil {
			if reason := h.Reject(&agg); reason != "" {
				resp.Failed = append(resp.Failed, syncclient.FailedReport{ID: id, Error: reason})
				continue
			}
		}
		stored := h.reports[id]
		if stored != nil {
			base := agg.Report.ServerUpdatedAt
			if base == nil || !base.Equal(*stored.Report.ServerUpdatedAt) {
				resp.Conflicts = append(resp.Conflicts, syncclient.ConflictReport{
					ID:              id,
					ServerUpdatedAt: *stored.Report.ServerUpdatedAt,
					UpdatedAt:       stored.Report.LocalUpdatedAt,
				})
				continue
			}
		}

		h.accept(&agg, stored, marker)
		resp.SyncedIDs = append(resp.SyncedIDs, id)
		for _, p := range agg.Photos {
			if _, ok := h.blobs[p.ID]; !ok && !p.Deleted {
				resp.PhotoUploads = append(resp.PhotoUploads, h.target(id, p.ID))
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// accept stores an uploaded aggregate at marker. Children the upload does
// not mention are carried over from the stored copy.
func (h *Harness) accept(agg, stored *models.ReportAggregate, marker time.Time) {
	if stored != nil {
		agg.Elements = carryOver(agg.Elements, stored.Elements, func(e models.RoofElement) string { return e.ID })
		agg.Defects = carryOver(agg.Defects, stored.Defects, func(d models.Defect) string { return d.ID })
		agg.Photos = carryOver(agg.Photos, stored.Photos, func(p models.Photo) string { return p.ID })
		if agg.Compliance == nil {
			agg.Compliance = stored.Compliance
		}
	}

	stamp := func(m *models.SyncMeta) {
		at := marker
		m.ServerUpdatedAt = &at
		m.SyncStatus = models.SyncSynced
		m.SyncError = ""
	}
	stamp(&agg.Report.SyncMeta)
	for i := range agg.Elements {
		stamp(&agg.Elements[i].SyncMeta)
	}
	for i := range agg.Defects {
		stamp(&agg.Defects[i].SyncMeta)
	}
	if agg.Compliance != nil {
		stamp(&agg.Compliance.SyncMeta)
	}
	for i := range agg.Photos {
		p := &agg.Photos[i]
		stamp(&p.SyncMeta)
		p.UploadError = ""
		if _, ok := h.blobs[p.ID]; ok {
			p.UploadStatus = models.UploadUploaded
			p.StorageURL = h.blobURL(p.ID)
		} else {
			p.UploadStatus = models.UploadPending
			p.StorageURL = ""
		}
		h.photoIndex[p.ID] = agg.Report.ID
	}
	h.reports[agg.Report.ID] = agg
}

func carryOver[T any](incoming, stored []T, id func(T) string) []T {
	seen := make(map[string]bool, len(incoming))
	for _, v := range incoming {
		seen[id(v)] = true
	}
	for _, v := range stored {
		if !seen[id(v)] {
			incoming = append(incoming, v)
		}
	}
	return incoming
}

func (h *Harness) handleReport(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	h.mu.Lock()
	defer h.mu.Unlock()
	agg, ok := h.reports[id]
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "report "+id)
		return
	}
	writeJSON(w, http.StatusOK, agg)
}

func (h *Harness) handlePhotoTargets(w http.ResponseWriter, r *http.Request) {
	var req syncclient.PhotoTargetsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	resp := syncclient.PhotoTargetsResponse{PhotoUploads: []syncclient.PhotoUpload{}}
	for _, id := range req.PhotoIDs {
		reportID, ok := h.photoIndex[id]
		if !ok {
			continue
		}
		if _, done := h.blobs[id]; done {
			continue
		}
		resp.PhotoUploads = append(resp.PhotoUploads, h.target(reportID, id))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Harness) handleBlobPut(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if r.URL.Query().Get("sig") != signature(id) {
		writeError(w, http.StatusForbidden, "forbidden", "bad signature")
		return
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	reportID, ok := h.photoIndex[id]
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "photo "+id)
		return
	}
	h.blobs[id] = blob{contentType: r.Header.Get("Content-Type"), data: data}
	// the binary does not change the metadata version
	if agg := h.reports[reportID]; agg != nil {
		for i := range agg.Photos {
			if agg.Photos[i].ID == id {
				agg.Photos[i].UploadStatus = models.UploadUploaded
				agg.Photos[i].StorageURL = h.blobURL(id)
			}
		}
	}
	w.WriteHeader(http.StatusCreated)
}

// tick returns a server timestamp strictly after every earlier one
func (h *Harness) tick() time.Time {
	now := time.Now().UTC()
	if !now.After(h.lastMarker) {
		now = h.lastMarker.Add(time.Microsecond)
	}
	h.lastMarker = now
	return now
}

func (h *Harness) target(reportID, photoID string) syncclient.PhotoUpload {
	return syncclient.PhotoUpload{
		ReportID:  reportID,
		PhotoID:   photoID,
		UploadURL: h.blobURL(photoID) + "?sig=" + signature(photoID),
		Method:    http.MethodPut,
		Headers:   map[string]string{"X-Upload-Owner": h.user.ID},
		ExpiresAt: time.Now().Add(h.TargetTTL),
	}
}

func (h *Harness) blobURL(photoID string) string {
	return h.Server.URL + "/blobs/" + photoID
}

func signature(photoID string) string {
	return "sig-" + photoID
}

func (h *Harness) sortedReportIDs() []string {
	ids := make([]string, 0, len(h.reports))
	for id := range h.reports {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"code": code, "message": msg})
}

// ---------------------------------------------------------------------------
// Inspection helpers
// ---------------------------------------------------------------------------

// Blob returns the binary the server holds for a photo
func (h *Harness) Blob(photoID string) ([]byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.blobs[photoID]
	return b.data, ok
}

// ServerReport returns a copy of the server's version of a report
func (h *Harness) ServerReport(id string) (*models.ReportAggregate, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	agg, ok := h.reports[id]
	if !ok {
		return nil, false
	}
	cp := *agg
	return &cp, true
}

// UploadCount is the number of upload requests the server has handled
func (h *Harness) UploadCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.uploads
}

// Diff describes how two devices' copies of a report differ, or returns
// an empty string when they agree on every synchronised field.
func (h *Harness) Diff(deviceA, deviceB, reportID string) string {
	h.t.Helper()
	a, err := h.Device(deviceA).Store.GetReportAggregate(reportID)
	if err != nil {
		return fmt.Sprintf("%s: %v", deviceA, err)
	}
	b, err := h.Device(deviceB).Store.GetReportAggregate(reportID)
	if err != nil {
		return fmt.Sprintf("%s: %v", deviceB, err)
	}
	infos, err := conflict.DetectAggregate(a, b)
	if err != nil {
		return err.Error()
	}
	if len(infos) == 0 {
		return ""
	}
	return strings.Join(conflict.FieldsOf(infos), ", ")
}

// AssertConverged fails the test when any pair of devices disagrees about
// the report
func (h *Harness) AssertConverged(reportID string) {
	h.t.Helper()
	ids := make([]string, 0, len(h.Devices))
	for id := range h.Devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for i := 1; i < len(ids); i++ {
		if d := h.Diff(ids[0], ids[i], reportID); d != "" {
			h.t.Fatalf("%s and %s diverge on %s: %s", ids[0], ids[i], reportID, d)
		}
	}
}
