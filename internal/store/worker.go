// Package store owns all workspace persistence: per-user session records, the
// idempotency key set, and the topic archive vectors. A single writer
// goroutine serializes every mutation, so callers never race on the files.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	stdatomic "sync/atomic"
	"time"

	"github.com/harunnryd/kotori/internal/config"
	"github.com/harunnryd/kotori/internal/dialog"
	"github.com/harunnryd/kotori/internal/idempotency"

	"github.com/natefinch/atomic"
	"github.com/philippgille/chromem-go"
)

type Operation int

const (
	OpLoadSession Operation = iota
	OpSaveSession
	OpResetSession
	OpListSessions
	OpSaveIdempotency
	OpUpsertVector
	OpSearchVectors
)

type Request struct {
	Op       Operation
	Payload  interface{}
	Result   chan error
	Response chan interface{}
}

type loadSessionPayload struct {
	UserID string
}

type saveSessionPayload struct {
	Session *dialog.Session
}

type resetSessionPayload struct {
	UserID string
}

type upsertVectorPayload struct {
	Collection string
	ID         string
	Vector     []float32
	Metadata   map[string]string
	Content    string
}

type searchVectorsPayload struct {
	Collection string
	Vector     []float32
	Limit      int
}

type VectorResult struct {
	ID       string
	Score    float32
	Metadata map[string]string
	Content  string
}

// Worker is the single-writer store goroutine for one workspace.
type Worker struct {
	workspaceID string
	basePath    string
	inbox       chan Request
	idemStore   *idempotency.Store
	fileLock    *FileLock
	quit        chan struct{}
	wg          sync.WaitGroup
	sessions    map[string]*dialog.Session
	vectorDB    *chromem.DB
	running     stdatomic.Bool
}

type RuntimeConfig struct {
	LockTimeout  time.Duration
	LockRetry    time.Duration
	LockMaxRetry int
	InboxSize    int
}

func NewWorker(workspaceID string, workspaceRootPath string, runtimeCfg RuntimeConfig) (*Worker, error) {
	basePath, err := GetWorkspacePath(workspaceID, workspaceRootPath)
	if err != nil {
		return nil, err
	}

	dirs := []string{
		filepath.Join(basePath, "sessions"),
		filepath.Join(basePath, "governance"),
		filepath.Join(basePath, "vectors"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, fmt.Errorf("failed to create dir %s: %w", d, err)
		}
	}

	if runtimeCfg.LockTimeout <= 0 {
		lockTimeout, err := config.DurationOrDefault("", config.DefaultStoreLockTimeout)
		if err != nil {
			return nil, fmt.Errorf("parse default store lock timeout: %w", err)
		}
		runtimeCfg.LockTimeout = lockTimeout
	}
	if runtimeCfg.LockRetry <= 0 {
		lockRetry, err := config.DurationOrDefault("", config.DefaultStoreLockRetry)
		if err != nil {
			return nil, fmt.Errorf("parse default store lock retry: %w", err)
		}
		runtimeCfg.LockRetry = lockRetry
	}
	if runtimeCfg.LockMaxRetry <= 0 {
		runtimeCfg.LockMaxRetry = config.DefaultStoreLockMaxRetry
	}
	if runtimeCfg.InboxSize <= 0 {
		runtimeCfg.InboxSize = config.DefaultStoreInboxSize
	}

	fileLock, err := NewFileLock(workspaceID, basePath, &FileLockConfig{
		LockTimeout:  runtimeCfg.LockTimeout,
		LockRetry:    runtimeCfg.LockRetry,
		LockMaxRetry: runtimeCfg.LockMaxRetry,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}

	idemPath := filepath.Join(basePath, "governance", "processed_keys.json")
	idemStore, err := idempotency.NewStore(idemPath)
	if err != nil {
		fileLock.Unlock()
		return nil, fmt.Errorf("failed to load idempotency store: %w", err)
	}

	vectorDB, err := chromem.NewPersistentDB(filepath.Join(basePath, "vectors"), false)
	if err != nil {
		fileLock.Unlock()
		return nil, fmt.Errorf("failed to init vector db: %w", err)
	}

	return &Worker{
		workspaceID: workspaceID,
		basePath:    basePath,
		inbox:       make(chan Request, runtimeCfg.InboxSize),
		idemStore:   idemStore,
		fileLock:    fileLock,
		quit:        make(chan struct{}),
		sessions:    make(map[string]*dialog.Session),
		vectorDB:    vectorDB,
	}, nil
}

func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

func (w *Worker) loop() {
	slog.Info("StoreWorker started", "workspace", w.workspaceID)
	w.running.Store(true)
	defer func() {
		w.running.Store(false)
		w.wg.Done()
	}()

	pruned := w.idemStore.Prune()
	if pruned > 0 {
		slog.Info("Pruned expired idempotency keys", "count", pruned)
		if err := w.idemStore.Save(); err != nil {
			slog.Error("Failed to save pruned keys", "error", err)
		}
	}

	for {
		select {
		case req := <-w.inbox:
			err := w.handle(req)
			if req.Result != nil {
				req.Result <- err
			}
		case <-w.quit:
			slog.Info("StoreWorker stopping")
			return
		}
	}
}

func (w *Worker) handle(req Request) error {
	switch req.Op {
	case OpLoadSession:
		p, ok := req.Payload.(loadSessionPayload)
		if !ok {
			return fmt.Errorf("invalid payload for LoadSession")
		}
		sess, err := w.loadSession(p.UserID)
		if req.Response != nil {
			req.Response <- sess
		}
		return err
	case OpSaveSession:
		p, ok := req.Payload.(saveSessionPayload)
		if !ok {
			return fmt.Errorf("invalid payload for SaveSession")
		}
		return w.saveSession(p.Session)
	case OpResetSession:
		p, ok := req.Payload.(resetSessionPayload)
		if !ok {
			return fmt.Errorf("invalid payload for ResetSession")
		}
		return w.resetSession(p.UserID)
	case OpListSessions:
		ids, err := w.listSessions()
		if req.Response != nil {
			req.Response <- ids
		}
		return err
	case OpSaveIdempotency:
		return w.idemStore.Save()
	case OpUpsertVector:
		p, ok := req.Payload.(upsertVectorPayload)
		if !ok {
			return fmt.Errorf("invalid payload for UpsertVector")
		}
		return w.upsertVector(p)
	case OpSearchVectors:
		p, ok := req.Payload.(searchVectorsPayload)
		if !ok {
			return fmt.Errorf("invalid payload for SearchVectors")
		}
		res, err := w.searchVectors(p)
		if req.Response != nil {
			req.Response <- res
		}
		return err
	default:
		return fmt.Errorf("unknown operation: %d", req.Op)
	}
}

func (w *Worker) sessionPath(userID string) string {
	return filepath.Join(w.basePath, "sessions", SessionFileName(userID))
}

// loadSession reads from the in-memory cache first, then disk. A missing
// record returns nil without error.
func (w *Worker) loadSession(userID string) (*dialog.Session, error) {
	if sess, ok := w.sessions[userID]; ok {
		return sess.Clone(), nil
	}

	data, err := os.ReadFile(w.sessionPath(userID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var sess dialog.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("corrupt session record for %s: %w", userID, err)
	}

	w.sessions[userID] = &sess
	return sess.Clone(), nil
}

// saveSession rejects invariant-breaking records before they ever hit disk.
func (w *Worker) saveSession(sess *dialog.Session) error {
	if sess == nil || sess.UserID == "" {
		return fmt.Errorf("session without user id")
	}
	if err := sess.CheckInvariant(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}
	if err := atomic.WriteFile(w.sessionPath(sess.UserID), bytes.NewReader(data)); err != nil {
		return err
	}

	w.sessions[sess.UserID] = sess.Clone()
	return nil
}

func (w *Worker) resetSession(userID string) error {
	if err := os.Remove(w.sessionPath(userID)); err != nil && !os.IsNotExist(err) {
		return err
	}
	delete(w.sessions, userID)
	return nil
}

func (w *Worker) listSessions() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(w.basePath, "sessions"))
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(entry.Name(), ".json"))
	}
	return ids, nil
}

func (w *Worker) upsertVector(p upsertVectorPayload) error {
	col, err := w.vectorDB.GetOrCreateCollection(p.Collection, nil, nil)
	if err != nil {
		return err
	}
	// AddDocuments is upsert in chromem
	return col.AddDocuments(context.Background(), []chromem.Document{
		{
			ID:        p.ID,
			Metadata:  p.Metadata,
			Embedding: p.Vector,
			Content:   p.Content,
		},
	}, 1)
}

func (w *Worker) searchVectors(p searchVectorsPayload) ([]VectorResult, error) {
	col := w.vectorDB.GetCollection(p.Collection, nil)
	if col == nil {
		return []VectorResult{}, nil
	}

	docs, err := col.QueryEmbedding(context.Background(), p.Vector, p.Limit, nil, nil)
	if err != nil {
		return nil, err
	}

	var results []VectorResult
	for _, doc := range docs {
		results = append(results, VectorResult{
			ID:       doc.ID,
			Score:    doc.Similarity,
			Metadata: doc.Metadata,
			Content:  doc.Content,
		})
	}
	return results, nil
}

// Public API for other components

func (w *Worker) LoadSession(userID string) (*dialog.Session, error) {
	res := make(chan error, 1)
	resp := make(chan interface{}, 1)
	w.inbox <- Request{
		Op:       OpLoadSession,
		Payload:  loadSessionPayload{UserID: userID},
		Result:   res,
		Response: resp,
	}
	if err := <-res; err != nil {
		return nil, err
	}
	val := <-resp
	if val == nil {
		return nil, nil
	}
	return val.(*dialog.Session), nil
}

func (w *Worker) SaveSession(sess *dialog.Session) error {
	res := make(chan error, 1)
	w.inbox <- Request{
		Op:      OpSaveSession,
		Payload: saveSessionPayload{Session: sess},
		Result:  res,
	}
	return <-res
}

func (w *Worker) ResetSession(userID string) error {
	res := make(chan error, 1)
	w.inbox <- Request{
		Op:      OpResetSession,
		Payload: resetSessionPayload{UserID: userID},
		Result:  res,
	}
	return <-res
}

func (w *Worker) ListSessions() ([]string, error) {
	res := make(chan error, 1)
	resp := make(chan interface{}, 1)
	w.inbox <- Request{
		Op:       OpListSessions,
		Result:   res,
		Response: resp,
	}
	if err := <-res; err != nil {
		return nil, err
	}
	val := <-resp
	if val == nil {
		return nil, nil
	}
	return val.([]string), nil
}

func (w *Worker) UpsertVector(collection, id string, vector []float32, metadata map[string]string, content string) error {
	res := make(chan error, 1)
	w.inbox <- Request{
		Op: OpUpsertVector,
		Payload: upsertVectorPayload{
			Collection: collection,
			ID:         id,
			Vector:     vector,
			Metadata:   metadata,
			Content:    content,
		},
		Result: res,
	}
	return <-res
}

func (w *Worker) SearchVectors(collection string, vector []float32, limit int) ([]VectorResult, error) {
	res := make(chan error, 1)
	resp := make(chan interface{}, 1)
	w.inbox <- Request{
		Op: OpSearchVectors,
		Payload: searchVectorsPayload{
			Collection: collection,
			Vector:     vector,
			Limit:      limit,
		},
		Result:   res,
		Response: resp,
	}
	if err := <-res; err != nil {
		return nil, err
	}
	val := <-resp
	return val.([]VectorResult), nil
}

func (w *Worker) SaveIdempotency() {
	w.inbox <- Request{Op: OpSaveIdempotency}
}

// CheckAndMarkKey is safe to call from any goroutine; the key set has its own
// mutex and persistence is queued through the inbox.
func (w *Worker) CheckAndMarkKey(key string, ttl time.Duration) bool {
	if ttl <= 0 {
		if d, err := config.DurationOrDefault("", config.DefaultGovernanceIdempotencyTTL); err == nil {
			ttl = d
		}
	}
	exists := w.idemStore.CheckAndMark(key, ttl)
	if !exists {
		w.SaveIdempotency()
	}
	return exists
}

func (w *Worker) Stop() {
	slog.Info("StoreWorker Stop called", "workspace", w.workspaceID)

	close(w.quit)
	w.wg.Wait()

	if w.fileLock.IsLocked() {
		w.fileLock.Unlock()
	}
}

func (w *Worker) IsLockHeld() bool {
	return w.fileLock.IsLocked()
}

func (w *Worker) IsRunning() bool {
	return w.fileLock.IsLocked() && w.running.Load()
}
