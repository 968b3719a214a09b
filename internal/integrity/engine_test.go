package integrity_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"integrity-go/internal/compression"
	"integrity-go/internal/database"
	"integrity-go/internal/digest"
	"integrity-go/internal/integrity"
	"integrity-go/internal/model"
	"integrity-go/internal/testutil"
	"integrity-go/internal/vault"
)

type testEnv struct {
	engine *integrity.Engine
	ledger *database.SQLiteLedger
	fsmgr  *testutil.MockFilesystemManager
	vault  *vault.MemoryVault
	clock  *testutil.StubClock
	extdb  *testutil.FakeExternalDB
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		ledger: testutil.NewTestLedger(t),
		fsmgr:  testutil.NewMockFilesystemManager(),
		vault:  testutil.NewTestVault(),
		clock:  testutil.FixedClock(),
		extdb:  testutil.NewFakeExternalDB("shop"),
	}
	digester := digest.NewProvider()
	backups := integrity.NewBackupVault(env.vault, compression.Zlib, nil, digester, integrity.NewNopLogger())
	env.engine = integrity.NewEngine(env.ledger, env.fsmgr, backups, digester, env.extdb.Connector(), integrity.NewNopLogger(), env.clock)
	t.Cleanup(func() { env.engine.Close() })
	return env
}

// tx opens a read transaction that is rolled back at the end of the test.
func (env *testEnv) tx(t *testing.T) integrity.LedgerTx {
	t.Helper()
	tx, err := env.ledger.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	t.Cleanup(func() { tx.Rollback() })
	return tx
}

func (env *testEnv) file(t *testing.T, path string) *model.ProtectedFile {
	t.Helper()
	tx := env.tx(t)
	f, err := tx.File(context.Background(), path)
	if err != nil {
		t.Fatalf("File(%s) error = %v", path, err)
	}
	tx.Rollback()
	return f
}

func (env *testEnv) fileErrors(t *testing.T, id int64) []model.ErrorEvent {
	t.Helper()
	tx := env.tx(t)
	events, err := tx.Errors(context.Background(), model.KindFile, id)
	if err != nil {
		t.Fatalf("Errors() error = %v", err)
	}
	tx.Rollback()
	return events
}

func mustSucceed(t *testing.T, name string, res integrity.Result) {
	t.Helper()
	if res.Failed {
		t.Fatalf("%s() failed: %s", name, res.Message)
	}
}

func TestEngine_Scenario_RegisterCheckViolate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fsmgr.AddFile("/data/a.txt", []byte("hello"))

	res := env.engine.Add(ctx, "file", "sha256", "/data/a.txt", integrity.AddOptions{})
	mustSucceed(t, "Add", res)

	f := env.file(t, "/data/a.txt")
	if f.Checksum != testutil.SHA256Hex([]byte("hello")) {
		t.Errorf("Checksum = %s, want sha256(hello)", f.Checksum)
	}
	if !f.IsCorrect || f.FileSize != 5 {
		t.Errorf("record = %+v, want correct with size 5", f)
	}

	res = env.engine.Check(ctx, "file", "/data/a.txt")
	mustSucceed(t, "Check", res)
	if !strings.Contains(res.Message, "integrity maintained") || res.Violated {
		t.Errorf("Check() = %+v, want integrity maintained", res)
	}
	if events := env.fileErrors(t, f.ID); len(events) != 0 {
		t.Errorf("error events = %d, want 0", len(events))
	}

	env.fsmgr.AddFile("/data/a.txt", []byte("hellp"))
	env.clock.Advance(time.Hour)

	res = env.engine.Check(ctx, "file", "/data/a.txt")
	mustSucceed(t, "Check", res)
	if !strings.Contains(res.Message, "integrity violated") || !res.Violated {
		t.Errorf("Check() = %+v, want integrity violated", res)
	}

	f = env.file(t, "/data/a.txt")
	if f.IsCorrect {
		t.Error("IsCorrect = true after violation")
	}
	events := env.fileErrors(t, f.ID)
	if len(events) != 1 {
		t.Fatalf("error events = %d, want 1", len(events))
	}
	if !events[0].Manual {
		t.Error("error event Manual = false, want true")
	}
	if !events[0].CheckedAt.Equal(env.clock.Now()) {
		t.Errorf("CheckedAt = %v, want %v", events[0].CheckedAt, env.clock.Now())
	}
	if env.engine.Failed() {
		t.Error("Failed() = true, a violation is not a request error")
	}
}

func TestEngine_Check_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fsmgr.AddFile("/data/a.txt", []byte("stable"))
	mustSucceed(t, "Add", env.engine.Add(ctx, "file", "crc32", "/data/a.txt", integrity.AddOptions{}))

	for i := 0; i < 3; i++ {
		res := env.engine.Check(ctx, "file", "/data/a.txt")
		if res.Failed || res.Violated {
			t.Fatalf("Check() #%d = %+v", i, res)
		}
	}

	f := env.file(t, "/data/a.txt")
	if !f.IsCorrect {
		t.Error("IsCorrect = false after passing checks")
	}
	if events := env.fileErrors(t, f.ID); len(events) != 0 {
		t.Errorf("error events = %d, want 0", len(events))
	}
}

func TestEngine_Check_NoSelfHealing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fsmgr.AddFile("/data/a.txt", []byte("hello"))
	mustSucceed(t, "Add", env.engine.Add(ctx, "file", "md5", "/data/a.txt", integrity.AddOptions{}))

	env.fsmgr.AddFile("/data/a.txt", []byte("tampered"))
	env.engine.Check(ctx, "file", "/data/a.txt")

	env.fsmgr.AddFile("/data/a.txt", []byte("hello"))
	res := env.engine.Check(ctx, "file", "/data/a.txt")
	if !strings.Contains(res.Message, "integrity maintained") {
		t.Errorf("Check() = %q, want integrity maintained", res.Message)
	}

	f := env.file(t, "/data/a.txt")
	if f.IsCorrect {
		t.Error("IsCorrect = true, a passing check must not clear the flag")
	}
	if events := env.fileErrors(t, f.ID); len(events) != 1 {
		t.Errorf("error events = %d, want 1", len(events))
	}
}

func TestEngine_Check_RepeatedViolationAppendsEvents(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fsmgr.AddFile("/data/a.txt", []byte("hello"))
	mustSucceed(t, "Add", env.engine.Add(ctx, "file", "sha256", "/data/a.txt", integrity.AddOptions{}))

	env.fsmgr.AddFile("/data/a.txt", []byte("tampered"))
	for i := 0; i < 3; i++ {
		if res := env.engine.Check(ctx, "file", "/data/a.txt"); !res.Violated {
			t.Fatalf("Check() #%d = %+v, want integrity violated", i, res)
		}
	}

	f := env.file(t, "/data/a.txt")
	if f.IsCorrect {
		t.Error("IsCorrect = true after mismatching checks")
	}
	if events := env.fileErrors(t, f.ID); len(events) != 3 {
		t.Errorf("error events = %d, want one per mismatching check", len(events))
	}
}

func TestEngine_Add_Reregistration(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fsmgr.AddFile("/data/a.txt", []byte("v1"))
	mustSucceed(t, "Add", env.engine.Add(ctx, "file", "sha256", "/data/a.txt", integrity.AddOptions{}))
	first := env.file(t, "/data/a.txt")

	env.fsmgr.AddFile("/data/a.txt", []byte("v2"))
	env.engine.Check(ctx, "file", "/data/a.txt")

	mustSucceed(t, "Add", env.engine.Add(ctx, "file", "sha512", "/data/a.txt", integrity.AddOptions{Watch: true}))
	second := env.file(t, "/data/a.txt")

	if second.ID != first.ID {
		t.Errorf("ID = %d, want %d", second.ID, first.ID)
	}
	if !second.IsCorrect || !second.IsWatched {
		t.Errorf("record = %+v, want correct and watched", second)
	}
	if len(second.Checksum) != 128 {
		t.Errorf("Checksum = %s, want a sha512 digest", second.Checksum)
	}
	if events := env.fileErrors(t, second.ID); len(events) != 1 {
		t.Errorf("error events = %d, want history kept", len(events))
	}
}

func TestEngine_Add_Errors(t *testing.T) {
	tests := []struct {
		name    string
		kind    string
		alg     string
		target  string
		wantMsg string
	}{
		{name: "missing algorithm", kind: "file", target: "/data/a.txt", wantMsg: "insufficient parameters"},
		{name: "missing target", kind: "file", alg: "sha256", wantMsg: "insufficient parameters"},
		{name: "unknown kind", kind: "folder", alg: "sha256", target: "/data/a.txt", wantMsg: `"folder" is not a valid argument`},
		{name: "unknown algorithm", kind: "file", alg: "rot13", target: "/data/a.txt", wantMsg: "not found"},
		{name: "file not found", kind: "file", alg: "sha256", target: "/data/missing.txt", wantMsg: "not found"},
		{name: "table without connection", kind: "table", alg: "sha256", target: "users", wantMsg: "without a database connection"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.fsmgr.AddFile("/data/a.txt", []byte("hello"))

			res := env.engine.Add(context.Background(), tt.kind, tt.alg, tt.target, integrity.AddOptions{})
			if !res.Failed {
				t.Fatalf("Add() = %+v, want failure", res)
			}
			if !strings.Contains(res.Message, tt.wantMsg) {
				t.Errorf("Add() message = %q, want it to contain %q", res.Message, tt.wantMsg)
			}
			if !env.engine.Failed() {
				t.Error("Failed() = false after a failed operation")
			}

			tx := env.tx(t)
			n, err := tx.Count(context.Background(), model.KindFile)
			if err != nil {
				t.Fatalf("Count() error = %v", err)
			}
			if n != 0 {
				t.Errorf("Count() = %d, want 0", n)
			}
		})
	}
}

func TestEngine_FailedIsSticky(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fsmgr.AddFile("/data/a.txt", []byte("hello"))

	env.engine.Check(ctx, "file", "/data/a.txt")
	if !env.engine.Failed() {
		t.Fatal("Failed() = false after checking an unregistered file")
	}

	mustSucceed(t, "Add", env.engine.Add(ctx, "file", "sha256", "/data/a.txt", integrity.AddOptions{}))
	if !env.engine.Failed() {
		t.Error("Failed() was reset by a successful operation")
	}
}

func TestEngine_Check_Failures(t *testing.T) {
	t.Run("unregistered file", func(t *testing.T) {
		env := newTestEnv(t)
		env.fsmgr.AddFile("/data/a.txt", []byte("hello"))

		res := env.engine.Check(context.Background(), "file", "/data/a.txt")
		if !res.Failed || !strings.Contains(res.Message, "not found") {
			t.Errorf("Check() = %+v, want not found failure", res)
		}
	})

	t.Run("missing live file does not mutate the ledger", func(t *testing.T) {
		env := newTestEnv(t)
		ctx := context.Background()
		env.fsmgr.AddFile("/data/a.txt", []byte("hello"))
		mustSucceed(t, "Add", env.engine.Add(ctx, "file", "sha256", "/data/a.txt", integrity.AddOptions{}))
		env.fsmgr.RemoveFile("/data/a.txt")

		res := env.engine.Check(ctx, "file", "/data/a.txt")
		if !res.Failed || !strings.Contains(res.Message, "not found") {
			t.Errorf("Check() = %+v, want file not found failure", res)
		}

		f := env.file(t, "/data/a.txt")
		if !f.IsCorrect {
			t.Error("IsCorrect = false after a failed check")
		}
		if events := env.fileErrors(t, f.ID); len(events) != 0 {
			t.Errorf("error events = %d, want 0", len(events))
		}
	})

	t.Run("table without connection", func(t *testing.T) {
		env := newTestEnv(t)
		res := env.engine.Check(context.Background(), "table", "users")
		if !res.Failed || !strings.Contains(res.Message, "without a database connection") {
			t.Errorf("Check() = %+v", res)
		}
	})
}

func TestEngine_Check_NumericComparison(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fsmgr.AddFile("/data/a.txt", []byte("hello"))

	// adler32("hello") renders as 62c0215; store it padded and upper-cased.
	tx, err := env.ledger.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	algID, err := tx.AlgorithmID(ctx, "adler32")
	if err != nil {
		t.Fatalf("AlgorithmID() error = %v", err)
	}
	_, err = tx.SaveFile(ctx, &model.ProtectedFile{
		Path:         "/data/a.txt",
		FileSize:     5,
		AlgorithmID:  algID,
		Checksum:     "062C0215",
		IsCorrect:    true,
		CalculatedAt: model.NewTimestamp(env.clock.Now()),
	})
	if err != nil {
		t.Fatalf("SaveFile() error = %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	res := env.engine.Check(ctx, "file", "/data/a.txt")
	if res.Failed || res.Violated {
		t.Errorf("Check() = %+v, want integrity maintained", res)
	}
}

func TestEngine_Restore(t *testing.T) {
	t.Run("round trip after deletion", func(t *testing.T) {
		env := newTestEnv(t)
		ctx := context.Background()
		content := []byte("important content\n")
		env.fsmgr.AddFile("/data/a.txt", content)

		res := env.engine.Add(ctx, "file", "crc64", "/data/a.txt", integrity.AddOptions{Backup: true})
		mustSucceed(t, "Add", res)
		if !strings.Contains(res.Message, "backup created") {
			t.Errorf("Add() = %q, want backup confirmation", res.Message)
		}

		env.fsmgr.RemoveFile("/data/a.txt")
		mustSucceed(t, "Restore", env.engine.Restore(ctx, "file", "/data/a.txt"))

		got, ok := env.fsmgr.Content("/data/a.txt")
		if !ok || !bytes.Equal(got, content) {
			t.Errorf("restored content = %q, want %q", got, content)
		}
	})

	t.Run("does not clear the incorrect flag", func(t *testing.T) {
		env := newTestEnv(t)
		ctx := context.Background()
		env.fsmgr.AddFile("/data/a.txt", []byte("hello"))
		mustSucceed(t, "Add", env.engine.Add(ctx, "file", "sha256", "/data/a.txt", integrity.AddOptions{Backup: true}))

		env.fsmgr.AddFile("/data/a.txt", []byte("corrupted"))
		env.engine.Check(ctx, "file", "/data/a.txt")
		mustSucceed(t, "Restore", env.engine.Restore(ctx, "file", "/data/a.txt"))

		got, _ := env.fsmgr.Content("/data/a.txt")
		if string(got) != "hello" {
			t.Errorf("restored content = %q, want hello", got)
		}
		if env.file(t, "/data/a.txt").IsCorrect {
			t.Error("IsCorrect = true after restore")
		}
	})

	t.Run("corrupt backup leaves the live file alone", func(t *testing.T) {
		env := newTestEnv(t)
		ctx := context.Background()
		env.fsmgr.AddFile("/data/a.txt", []byte("hello"))
		mustSucceed(t, "Add", env.engine.Add(ctx, "file", "sha256", "/data/a.txt", integrity.AddOptions{Backup: true}))

		checksum := testutil.SHA256Hex([]byte("hello"))
		tampered, err := compression.Compress(compression.Zlib, []byte("evil"))
		if err != nil {
			t.Fatalf("Compress() error = %v", err)
		}
		if err := env.vault.PutContent("files", checksum, bytes.NewReader(tampered), int64(len(tampered))); err != nil {
			t.Fatalf("PutContent() error = %v", err)
		}
		env.fsmgr.AddFile("/data/a.txt", []byte("live"))

		res := env.engine.Restore(ctx, "file", "/data/a.txt")
		if !res.Failed || !strings.Contains(res.Message, "backup is corrupt") {
			t.Errorf("Restore() = %+v, want corrupt backup failure", res)
		}
		got, _ := env.fsmgr.Content("/data/a.txt")
		if string(got) != "live" {
			t.Errorf("live content = %q, want it untouched", got)
		}
		if !env.engine.Failed() {
			t.Error("Failed() = false after a failed restore")
		}
	})

	t.Run("no backup", func(t *testing.T) {
		env := newTestEnv(t)
		ctx := context.Background()
		env.fsmgr.AddFile("/data/a.txt", []byte("hello"))
		mustSucceed(t, "Add", env.engine.Add(ctx, "file", "sha256", "/data/a.txt", integrity.AddOptions{}))

		res := env.engine.Restore(ctx, "file", "/data/a.txt")
		if !res.Failed || !strings.Contains(res.Message, "backup not found") {
			t.Errorf("Restore() = %+v, want backup not found", res)
		}
	})

	t.Run("write failure", func(t *testing.T) {
		env := newTestEnv(t)
		ctx := context.Background()
		env.fsmgr.AddFile("/data/a.txt", []byte("hello"))
		mustSucceed(t, "Add", env.engine.Add(ctx, "file", "sha256", "/data/a.txt", integrity.AddOptions{Backup: true}))
		env.fsmgr.FailWrites = true

		res := env.engine.Restore(ctx, "file", "/data/a.txt")
		if !res.Failed || !strings.Contains(res.Message, "cannot write") {
			t.Errorf("Restore() = %+v, want write failure", res)
		}
	})

	t.Run("tables are never restored", func(t *testing.T) {
		env := newTestEnv(t)
		res := env.engine.Restore(context.Background(), "table", "users")
		if !res.Failed || !strings.Contains(res.Message, "not implemented for tables") {
			t.Errorf("Restore() = %+v, want not implemented for tables", res)
		}
	})
}

func TestEngine_Remove(t *testing.T) {
	t.Run("removes record and error history", func(t *testing.T) {
		env := newTestEnv(t)
		ctx := context.Background()
		env.fsmgr.AddFile("/data/a.txt", []byte("hello"))
		mustSucceed(t, "Add", env.engine.Add(ctx, "file", "sha256", "/data/a.txt", integrity.AddOptions{}))
		id := env.file(t, "/data/a.txt").ID
		env.fsmgr.AddFile("/data/a.txt", []byte("changed"))
		env.engine.Check(ctx, "file", "/data/a.txt")

		mustSucceed(t, "Remove", env.engine.Remove(ctx, "file", "/data/a.txt"))

		tx := env.tx(t)
		if _, err := tx.File(ctx, "/data/a.txt"); !integrity.IsNotFound(err) {
			t.Errorf("File() error = %v, want not found", err)
		}
		events, err := tx.Errors(ctx, model.KindFile, id)
		if err != nil {
			t.Fatalf("Errors() error = %v", err)
		}
		if len(events) != 0 {
			t.Errorf("error events = %d, want 0", len(events))
		}
	})

	t.Run("unregistered file is a no-op", func(t *testing.T) {
		env := newTestEnv(t)
		res := env.engine.Remove(context.Background(), "file", "/data/none.txt")
		if res.Failed {
			t.Errorf("Remove() = %+v, want success", res)
		}
		if env.engine.Failed() {
			t.Error("Failed() = true")
		}
	})

	t.Run("invalid kind", func(t *testing.T) {
		env := newTestEnv(t)
		res := env.engine.Remove(context.Background(), "tables", "x")
		if !res.Failed {
			t.Error("Remove() with plural kind succeeded")
		}
	})
}

func TestEngine_ListIncorrect(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res := env.engine.ListIncorrect(ctx, "files")
	if res.Failed || !strings.Contains(res.Message, "no incorrect files") {
		t.Errorf("ListIncorrect() = %+v, want empty listing", res)
	}

	for _, p := range []string{"/data/b.txt", "/data/a.txt", "/data/c.txt"} {
		env.fsmgr.AddFile(p, []byte(p))
		mustSucceed(t, "Add", env.engine.Add(ctx, "file", "sha1", p, integrity.AddOptions{}))
	}
	env.fsmgr.AddFile("/data/a.txt", []byte("x"))
	env.fsmgr.AddFile("/data/b.txt", []byte("y"))
	env.engine.Check(ctx, "file", "/data/a.txt")
	env.engine.Check(ctx, "file", "/data/b.txt")

	res = env.engine.ListIncorrect(ctx, "files")
	mustSucceed(t, "ListIncorrect", res)
	bIdx := strings.Index(res.Message, "/data/b.txt")
	aIdx := strings.Index(res.Message, "/data/a.txt")
	if aIdx < 0 || bIdx < 0 {
		t.Fatalf("ListIncorrect() = %q, want both incorrect files", res.Message)
	}
	if bIdx > aIdx {
		t.Error("ListIncorrect() not ordered by id")
	}
	if strings.Contains(res.Message, "/data/c.txt") {
		t.Error("ListIncorrect() lists a correct file")
	}
	if !strings.Contains(res.Message, "2024-01-15 10:30:00") {
		t.Errorf("ListIncorrect() = %q, want the error time", res.Message)
	}

	for _, bad := range []string{"", "file", "directories"} {
		if res := env.engine.ListIncorrect(ctx, bad); !res.Failed {
			t.Errorf("ListIncorrect(%q) succeeded", bad)
		}
	}
}

func TestEngine_Tables(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.extdb.SetTable("users", []string{"id", "name"},
		[]string{"2", "bob"},
		[]string{"1", "alice"},
	)

	mustSucceed(t, "Connect", env.engine.Connect(ctx, model.ConnectParams{DBMS: "sqlite3", DSN: "shop.db"}))

	res := env.engine.Add(ctx, "table", "sha256", "users", integrity.AddOptions{})
	mustSucceed(t, "Add", res)
	if !strings.Contains(res.Message, `field "id" was chosen as the primary key`) {
		t.Errorf("Add() = %q, want default primary key warning", res.Message)
	}

	tx := env.tx(t)
	dbID, err := tx.DatabaseID(ctx, env.extdb.Fingerprint())
	if err != nil {
		t.Fatalf("DatabaseID() error = %v", err)
	}
	tbl, err := tx.Table(ctx, "users", dbID)
	if err != nil {
		t.Fatalf("Table() error = %v", err)
	}
	tx.Rollback()
	if tbl.Checksum != testutil.SHA256Hex([]byte("1alice2bob")) {
		t.Errorf("Checksum = %s, want digest of rows ordered by id", tbl.Checksum)
	}
	if tbl.RowCount != 2 || tbl.PKField.Valid {
		t.Errorf("record = %+v, want 2 rows and no pk field", tbl)
	}

	res = env.engine.Check(ctx, "table", "users")
	if res.Failed || res.Violated {
		t.Errorf("Check() = %+v, want integrity maintained", res)
	}

	env.extdb.SetTable("users", []string{"id", "name"},
		[]string{"1", "alice"},
		[]string{"2", "mallory"},
	)
	res = env.engine.Check(ctx, "table", "users")
	if !res.Violated {
		t.Errorf("Check() = %+v, want integrity violated", res)
	}

	res = env.engine.ListIncorrect(ctx, "tables")
	if !strings.Contains(res.Message, "users") {
		t.Errorf("ListIncorrect() = %q, want users", res.Message)
	}

	res = env.engine.Add(ctx, "table", "sha256", "users", integrity.AddOptions{PKField: "name"})
	mustSucceed(t, "Add", res)
	if strings.Contains(res.Message, "WARNING") {
		t.Errorf("Add() with pk field warned: %q", res.Message)
	}

	mustSucceed(t, "Remove", env.engine.Remove(ctx, "table", "users"))
	res = env.engine.Check(ctx, "table", "users")
	if !res.Failed {
		t.Error("Check() of a removed table succeeded")
	}
}

func TestEngine_Tables_QueryFailed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	mustSucceed(t, "Connect", env.engine.Connect(ctx, model.ConnectParams{DBMS: "sqlite3", DSN: "shop.db"}))

	res := env.engine.Add(ctx, "table", "sha256", "missing", integrity.AddOptions{})
	if !res.Failed || !strings.Contains(res.Message, "query failed") {
		t.Errorf("Add() = %+v, want query failed", res)
	}
}

func TestEngine_Connect(t *testing.T) {
	tests := []struct {
		name     string
		params   model.ConnectParams
		wantDBMS string
		wantErr  string
	}{
		{
			name:     "postgres inferred from port",
			params:   model.ConnectParams{Host: "db", Port: "5432", Database: "shop", User: "u", Password: "p"},
			wantDBMS: "postgresql",
		},
		{
			name:     "mysql inferred from port",
			params:   model.ConnectParams{Host: "db", Port: "3306", Database: "shop", User: "u", Password: "p"},
			wantDBMS: "mysql",
		},
		{
			name:     "explicit dbms",
			params:   model.ConnectParams{DBMS: "postgresql", Host: "db", Port: "6543", Database: "shop", User: "u", Password: "p"},
			wantDBMS: "postgresql",
		},
		{
			name:    "unknown port",
			params:  model.ConnectParams{Host: "db", Port: "1521", Database: "shop", User: "u", Password: "p"},
			wantErr: "could not determine the DBMS",
		},
		{
			name:    "unsupported dbms",
			params:  model.ConnectParams{DBMS: "oracle", Host: "db", Port: "1521", Database: "shop", User: "u", Password: "p"},
			wantErr: "not a supported DBMS",
		},
		{
			name:    "missing password",
			params:  model.ConnectParams{Host: "db", Port: "5432", Database: "shop", User: "u"},
			wantErr: "insufficient parameters",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := testutil.NewTestLedger(t)
			fake := testutil.NewFakeExternalDB("shop")
			var got model.ConnectParams
			connect := func(ctx context.Context, p model.ConnectParams) (integrity.ExternalDB, error) {
				got = p
				return fake, nil
			}
			e := integrity.NewEngine(ledger, testutil.NewMockFilesystemManager(), nil, digest.NewProvider(), connect, integrity.NewNopLogger(), testutil.FixedClock())

			res := e.Connect(context.Background(), tt.params)
			if tt.wantErr != "" {
				if !res.Failed || !strings.Contains(res.Message, tt.wantErr) {
					t.Errorf("Connect() = %+v, want %q", res, tt.wantErr)
				}
				if e.Connected() {
					t.Error("Connected() = true after failed connect")
				}
				return
			}
			mustSucceed(t, "Connect", res)
			if got.DBMS != tt.wantDBMS {
				t.Errorf("connector DBMS = %q, want %q", got.DBMS, tt.wantDBMS)
			}
			if !e.Connected() {
				t.Error("Connected() = false")
			}
		})
	}
}

func TestEngine_Connect_RegistersDatabaseOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	params := model.ConnectParams{DBMS: "sqlite3", DSN: "shop.db"}

	mustSucceed(t, "Connect", env.engine.Connect(ctx, params))
	mustSucceed(t, "Connect", env.engine.Connect(ctx, params))

	tx := env.tx(t)
	if _, err := tx.DatabaseID(ctx, env.extdb.Fingerprint()); err != nil {
		t.Errorf("DatabaseID() error = %v", err)
	}
}

func TestEngine_CheckAll(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for _, p := range []string{"/data/a.txt", "/data/b.txt", "/data/c.txt"} {
		env.fsmgr.AddFile(p, []byte("content of "+p))
		mustSucceed(t, "Add", env.engine.Add(ctx, "file", "blake2b", p, integrity.AddOptions{}))
	}
	env.fsmgr.AddFile("/data/b.txt", []byte("modified"))
	env.fsmgr.RemoveFile("/data/c.txt")

	res := env.engine.CheckAll(ctx)
	if !res.Failed || !res.Violated {
		t.Errorf("CheckAll() = %+v, want violated and failed", res)
	}
	lines := strings.Split(res.Message, "\n")
	if len(lines) != 4 {
		t.Fatalf("CheckAll() returned %d lines, want 4:\n%s", len(lines), res.Message)
	}
	if !strings.Contains(lines[0], "maintained") || !strings.Contains(lines[1], "violated") || !strings.Contains(lines[2], "not found") {
		t.Errorf("CheckAll() lines = %q", lines)
	}
	if lines[3] != "checked 3 objects: 1 violated, 1 failed" {
		t.Errorf("summary = %q", lines[3])
	}
	if env.file(t, "/data/b.txt").IsCorrect {
		t.Error("IsCorrect = true for the modified file")
	}
}

func TestEngine_SetWatched(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fsmgr.AddFile("/data/a.txt", []byte("hello"))
	mustSucceed(t, "Add", env.engine.Add(ctx, "file", "sha256", "/data/a.txt", integrity.AddOptions{}))

	mustSucceed(t, "SetWatched", env.engine.SetWatched(ctx, "/data/a.txt", true))
	if !env.file(t, "/data/a.txt").IsWatched {
		t.Error("IsWatched = false")
	}
	mustSucceed(t, "SetWatched", env.engine.SetWatched(ctx, "/data/a.txt", false))
	if env.file(t, "/data/a.txt").IsWatched {
		t.Error("IsWatched = true")
	}

	res := env.engine.SetWatched(ctx, "/data/other.txt", true)
	if !res.Failed || !strings.Contains(res.Message, "not found") {
		t.Errorf("SetWatched() = %+v, want not found", res)
	}
}

func TestEngine_List(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		p := "/data/" + string(rune('a'+i)) + ".txt"
		env.fsmgr.AddFile(p, []byte(p))
		mustSucceed(t, "Add", env.engine.Add(ctx, "file", "sha256", p, integrity.AddOptions{}))
	}

	res := env.engine.List(ctx, "files", integrity.ListPage{Page: 2, PageSize: 2})
	mustSucceed(t, "List", res)
	if !strings.Contains(res.Message, "/data/c.txt") || !strings.Contains(res.Message, "/data/d.txt") {
		t.Errorf("List() = %q, want page 2", res.Message)
	}
	if strings.Contains(res.Message, "/data/a.txt") || strings.Contains(res.Message, "/data/e.txt") {
		t.Errorf("List() = %q, contains rows of other pages", res.Message)
	}
	if !strings.Contains(res.Message, "page 2 of 3, total records: 5") {
		t.Errorf("List() = %q, want page footer", res.Message)
	}

	res = env.engine.List(ctx, "files", integrity.ListPage{Page: 0, PageSize: 2})
	if !res.Failed {
		t.Error("List() with page 0 succeeded")
	}
}

func TestEngine_ListAlgorithms(t *testing.T) {
	env := newTestEnv(t)
	res := env.engine.ListAlgorithms(context.Background())
	mustSucceed(t, "ListAlgorithms", res)
	for _, name := range []string{"crc32", "sha256", "gost_512", "blake3"} {
		if !strings.Contains(res.Message, "- "+name) {
			t.Errorf("ListAlgorithms() missing %s", name)
		}
	}
	if !strings.HasPrefix(res.Message, "available algorithms:\n- crc32") {
		t.Errorf("ListAlgorithms() = %q, want catalog order", res.Message)
	}
}

func TestEngine_Close(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	mustSucceed(t, "Connect", env.engine.Connect(ctx, model.ConnectParams{DBMS: "sqlite3", DSN: "shop.db"}))
	if err := env.engine.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !env.extdb.Closed() {
		t.Error("external database still open after Close()")
	}
	if env.engine.Connected() {
		t.Error("Connected() = true after Close()")
	}

	res := env.engine.Check(ctx, "table", "users")
	if !res.Failed || !strings.Contains(res.Message, "without a database connection") {
		t.Errorf("Check() after Close() = %+v, want connection failure", res)
	}
}

func TestEngine_ListIncorrect_CurrentDatabaseOnly(t *testing.T) {
	ctx := context.Background()
	shop := testutil.NewFakeExternalDB("shop")
	archive := testutil.NewFakeExternalDB("archive")
	for _, db := range []*testutil.FakeExternalDB{shop, archive} {
		db.SetTable("users", []string{"id", "name"}, []string{"1", "alice"})
	}
	connect := func(_ context.Context, p model.ConnectParams) (integrity.ExternalDB, error) {
		if p.DSN == "archive.db" {
			return archive, nil
		}
		return shop, nil
	}
	e := integrity.NewEngine(testutil.NewTestLedger(t), testutil.NewMockFilesystemManager(), nil,
		digest.NewProvider(), connect, integrity.NewNopLogger(), testutil.FixedClock())
	defer e.Close()

	mustSucceed(t, "Connect", e.Connect(ctx, model.ConnectParams{DBMS: "sqlite3", DSN: "shop.db"}))
	mustSucceed(t, "Add", e.Add(ctx, "table", "sha256", "users", integrity.AddOptions{}))
	shop.SetTable("users", []string{"id", "name"}, []string{"1", "mallory"})
	if res := e.Check(ctx, "table", "users"); !res.Violated {
		t.Fatalf("Check() = %+v, want integrity violated", res)
	}

	mustSucceed(t, "Connect", e.Connect(ctx, model.ConnectParams{DBMS: "sqlite3", DSN: "archive.db"}))
	mustSucceed(t, "Add", e.Add(ctx, "table", "sha256", "users", integrity.AddOptions{}))
	if res := e.ListIncorrect(ctx, "tables"); res.Failed || res.Message != "no incorrect tables" {
		t.Errorf("ListIncorrect() on archive = %+v, want no incorrect tables", res)
	}

	mustSucceed(t, "Connect", e.Connect(ctx, model.ConnectParams{DBMS: "sqlite3", DSN: "shop.db"}))
	if res := e.ListIncorrect(ctx, "tables"); !strings.Contains(res.Message, "users") {
		t.Errorf("ListIncorrect() on shop = %q, want users", res.Message)
	}
}

func TestEngine_Check_UsesRegisteredKeyOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.extdb.SetTable("users", []string{"id", "name"},
		[]string{"1", "zed"},
		[]string{"2", "amy"},
	)
	mustSucceed(t, "Connect", env.engine.Connect(ctx, model.ConnectParams{DBMS: "sqlite3", DSN: "shop.db"}))
	mustSucceed(t, "Add", env.engine.Add(ctx, "table", "sha256", "users", integrity.AddOptions{PKField: "name"}))

	tx := env.tx(t)
	dbID, err := tx.DatabaseID(ctx, env.extdb.Fingerprint())
	if err != nil {
		t.Fatalf("DatabaseID() error = %v", err)
	}
	tbl, err := tx.Table(ctx, "users", dbID)
	if err != nil {
		t.Fatalf("Table() error = %v", err)
	}
	tx.Rollback()
	if tbl.Checksum != testutil.SHA256Hex([]byte("2amy1zed")) {
		t.Errorf("Checksum = %s, want digest of rows ordered by name", tbl.Checksum)
	}

	if res := env.engine.Check(ctx, "table", "users"); res.Failed || res.Violated {
		t.Errorf("Check() = %+v, want integrity maintained", res)
	}
}
