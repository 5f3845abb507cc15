package script

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"
	"time"
)

const (
	LUA_HEADER_PATTERN  = "--*"
	JS_HEADER_PATTERN   = "//*"
	LIBRARY_FOLDER_NAME = "libs"

	ENGINE_LUA      = "lua"
	ENGINE_JS       = "js"
	ENGINE_JSONPATH = "jsonpath"
)

// Script is a post-processing program along with the metadata read from its header
// comments:
//
//	--* name: extract-token
//	--* engine: lua
//	--* timeout: 2s
//	--* require: common/json
type Script struct {
	Content []byte        `json:"content"`
	Engine  string        `json:"engine"`
	LibKeys []string      `json:"libraries"`
	Name    string        `json:"name"`
	Timeout time.Duration `json:"timeout"`
}

// Fingerprint identifies a compiled program: the engine plus the source it was
// compiled from, libraries included. Equal fingerprints compile to the same program.
func Fingerprint(engine string, source []byte) string {
	h := sha256.New()
	h.Write([]byte(engine))
	h.Write([]byte{0})
	h.Write(source)

	return hex.EncodeToString(h.Sum(nil))
}

func ReadFile(filename string) (*Script, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", filename, err)
	}
	defer f.Close()

	s := new(Script)
	err = s.Read(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}

	if s.Engine == "" {
		s.Engine = EngineByExtension(filename)
	}
	if s.Name == "" {
		base := path.Base(filename)
		s.Name = strings.TrimSuffix(base, path.Ext(base))
	}

	return s, nil
}

func ReadString(content string) (*Script, error) {
	r := strings.NewReader(content)
	s := new(Script)

	err := s.Read(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read string content: %w", err)
	}

	return s, nil
}

// EngineByExtension guesses the engine from a file name. Lua is the default.
func EngineByExtension(filename string) string {
	switch path.Ext(filename) {
	case ".js":
		return ENGINE_JS
	case ".jsonpath":
		return ENGINE_JSONPATH
	}

	return ENGINE_LUA
}

func getHeaderKey(line string) string {
	if strings.HasPrefix(line, LUA_HEADER_PATTERN) || strings.HasPrefix(line, JS_HEADER_PATTERN) {
		ss := strings.Fields(line)
		if len(ss) >= 2 {
			return strings.TrimSuffix(ss[1], ":")
		}
	}

	return ""
}

func getHeaderValue(line string) string {
	ss := strings.Fields(line)
	if len(ss) >= 3 {
		return strings.Join(ss[2:], " ")
	}

	return ""
}

func (s *Script) Read(f io.Reader) error {
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var b strings.Builder
	for scanner.Scan() {
		line := scanner.Text()

		k := getHeaderKey(line)
		v := getHeaderValue(line)
		switch k {
		case "name":
			s.Name = v
		case "engine":
			s.Engine = strings.ToLower(v)
		case "require":
			s.LibKeys = append(s.LibKeys, v)
		case "timeout":
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid timeout %q: %w", v, err)
			}
			s.Timeout = d
		default:
			_, err := b.WriteString(line + "\n")
			if err != nil {
				return fmt.Errorf("failed to write to builder: %w", err)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to scan script: %w", err)
	}

	s.Content = []byte(strings.TrimSuffix(b.String(), "\n"))

	return nil
}

// IsScriptFile reports whether filename has a script extension
func IsScriptFile(filename string) bool {
	switch path.Ext(filename) {
	case ".lua", ".js", ".jsonpath":
		return true
	}

	return false
}

// ReadScriptDirectory reads every script under dirname, keyed by script name.
// Files inside a "libs" folder are skipped; they are libraries, not scripts.
func ReadScriptDirectory(dirname string, recurse bool) (map[string]*Script, error) {
	scripts := make(map[string]*Script)
	add := func(filename string) error {
		fullname := path.Join(dirname, filename)

		s, err := ReadFile(fullname)
		if err != nil {
			return fmt.Errorf("failed to read script %s: %w", fullname, err)
		}

		if _, found := scripts[s.Name]; found {
			return fmt.Errorf("duplicate script name %s in %s", s.Name, fullname)
		}
		scripts[s.Name] = s

		return nil
	}

	if recurse {
		fsys := os.DirFS(dirname)
		err := fs.WalkDir(fsys, ".", func(filename string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}

			if d.IsDir() || !IsScriptFile(filename) {
				return nil
			}

			if InLibraryFolder(filename) {
				return nil
			}

			return add(filename)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk directory %s: %w", dirname, err)
		}
	} else {
		entries, err := os.ReadDir(dirname)
		if err != nil {
			return nil, fmt.Errorf("failed to read directory: %w", err)
		}

		for _, e := range entries {
			if e.IsDir() || !IsScriptFile(e.Name()) {
				continue
			}

			if err := add(e.Name()); err != nil {
				return nil, err
			}
		}
	}

	return scripts, nil
}

// ReadLibraryDirectory reads every Lua library under dirname, keyed by its path
// relative to dirname without extension ("common/json" for common/json.lua).
func ReadLibraryDirectory(dirname string) (map[string][]byte, error) {
	libraries := make(map[string][]byte)

	fsys := os.DirFS(dirname)
	err := fs.WalkDir(fsys, ".", func(filename string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() || path.Ext(filename) != ".lua" {
			return nil
		}

		content, err := fs.ReadFile(fsys, filename)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", filename, err)
		}

		libraries[LibraryKey(filename)] = content

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk through directory %s for library files: %w", dirname, err)
	}

	return libraries, nil
}

// InLibraryFolder reports whether the slash separated path goes through a libs folder
func InLibraryFolder(filename string) bool {
	return strings.HasPrefix(filename, LIBRARY_FOLDER_NAME+"/") || strings.Contains(filename, "/"+LIBRARY_FOLDER_NAME+"/")
}

// LibraryKey turns a library file path into the key used by require headers
func LibraryKey(filename string) string {
	return strings.TrimSuffix(filename, path.Ext(filename))
}
