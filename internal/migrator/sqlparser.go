package migrator

import (
	"bufio"
	"cmp"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// SQLFile is one parsed <version>_<name>.sql migration.
type SQLFile struct {
	Version  int64
	Name     string
	UpSQL    string
	DownSQL  string
	Checksum string
}

// ParseSQLDir scans dir for *.sql files named <version>_<name>.sql and splits
// each on the `-- +migrate Up` and `-- +migrate Down` markers.
func ParseSQLDir(dir string) ([]SQLFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	files := make([]SQLFile, 0)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(strings.ToLower(name), ".sql") {
			continue
		}
		ver, title, ok := splitVersionName(name)
		if !ok {
			continue
		}
		up, down, err := splitUpDown(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		sum := checksum(up + "\n--DOWN--\n" + down)
		files = append(files, SQLFile{Version: ver, Name: title, UpSQL: up, DownSQL: down, Checksum: sum})
	}
	slices.SortFunc(files, func(a, b SQLFile) int { return cmp.Compare(a.Version, b.Version) })
	return files, nil
}

// Migration binds the file to exec. An empty section becomes a no-op action.
func (f SQLFile) Migration(exec Executor) Migration {
	return Migration{
		Version:  f.Version,
		Name:     f.Name,
		Up:       sqlAction(exec, f.UpSQL),
		Down:     sqlAction(exec, f.DownSQL),
		Checksum: f.Checksum,
	}
}

// LoadSQLDir parses dir and registers every file into reg.
func LoadSQLDir(reg *Registry, dir string, exec Executor) error {
	files, err := ParseSQLDir(dir)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := reg.Register(f.Migration(exec)); err != nil {
			return err
		}
	}
	return nil
}

func sqlAction(exec Executor, sql string) Action {
	return func(ctx context.Context) error {
		if strings.TrimSpace(sql) == "" {
			return nil
		}
		return exec.ExecTx(ctx, sql)
	}
}

func splitVersionName(filename string) (int64, string, bool) {
	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	idx := strings.IndexByte(base, '_')
	if idx <= 0 {
		return 0, "", false
	}
	v, err := strconv.ParseInt(base[:idx], 10, 64)
	if err != nil || v <= 0 {
		return 0, "", false
	}
	name := base[idx+1:]
	if name == "" {
		name = "migration"
	}
	return v, name, true
}

func splitUpDown(path string) (up string, down string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	var mode Direction = -1
	var upB, downB strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch strings.TrimSpace(strings.ToLower(line)) {
		case "-- +migrate up", "--+migrate up":
			mode = Up
			continue
		case "-- +migrate down", "--+migrate down":
			mode = Down
			continue
		}
		// lines before the first marker are ignored
		switch mode {
		case Up:
			upB.WriteString(line)
			upB.WriteByte('\n')
		case Down:
			downB.WriteString(line)
			downB.WriteByte('\n')
		}
	}
	if err := scanner.Err(); err != nil {
		return "", "", err
	}
	return strings.TrimSpace(upB.String()), strings.TrimSpace(downB.String()), nil
}

func checksum(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}
