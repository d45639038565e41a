package engine

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"

	"github.com/flowforge/codeflow-engine/ident"
)

// newStateOutputsSink creates the scratch file a step's process writes
// KEY=VALUE lines to (spec §6). It returns the file's path; the caller is
// responsible for removing it once the step has terminated.
func newStateOutputsSink(taskID ident.TaskID) (string, error) {
	f, err := os.CreateTemp("", "codemod-state-outputs-"+taskID.String()+"-*")
	if err != nil {
		return "", err
	}
	path := f.Name()
	_ = f.Close()
	return path, nil
}

// readStateOutputs parses a STATE_OUTPUTS sink file into a patch map. Each
// line must be KEY=VALUE; VALUE is decoded as JSON when it parses as such
// (objects, arrays, numbers, booleans), otherwise kept as the raw string.
// Malformed lines are skipped rather than failing the step: a step that
// emits one bad line should not lose its other outputs.
func readStateOutputs(path string) (map[string]any, map[string]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	state := make(map[string]any)
	strs := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		strs[key] = value
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			state[key] = decoded
		} else {
			state[key] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return state, strs, err
	}
	return state, strs, nil
}
