package executor

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/levelflow/internal/config"
	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

// ResultFile is written into every node directory after a successful run.
const ResultFile = "_result.json"

type cachedResult struct {
	Hash    string          `json:"hash"`
	Type    json.RawMessage `json:"type"`
	Outputs json.RawMessage `json:"outputs"`
}

// inputHash digests everything that determines a node's result: the runner,
// its handler, the fully evaluated arguments with defaults applied, and the
// size and modification time of every existing file an argument names.
func inputHash(def *config.RunnerDefinition, args map[string]hcl.Expression, evalCtx *hcl.EvalContext) (string, error) {
	values := make(map[string]cty.Value, len(args)+len(def.Inputs))
	for name, in := range def.Inputs {
		if in.Default != nil {
			values[name] = *in.Default
		}
	}
	for name, expr := range args {
		val, diags := expr.Value(evalCtx)
		if diags.HasErrors() {
			return "", diags
		}
		values[name] = val
	}

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	fmt.Fprintf(h, "runner=%s\nhandler=%s\n", def.Type, def.Lifecycle.OnRun)
	for _, name := range names {
		val := values[name]
		if !val.IsWhollyKnown() {
			return "", fmt.Errorf("argument %q is not known", name)
		}
		raw, err := ctyjson.Marshal(val, val.Type())
		if err != nil {
			return "", fmt.Errorf("argument %q: %w", name, err)
		}
		fmt.Fprintf(h, "%s=%s\n", name, raw)
		writeFileStamps(h, val)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// writeFileStamps writes the size and mtime of each absolute path in val.
// Paths that do not exist contribute nothing beyond their text.
func writeFileStamps(w io.Writer, val cty.Value) {
	if val.IsNull() || !val.IsKnown() {
		return
	}
	ty := val.Type()
	switch {
	case ty == cty.String:
		path := val.AsString()
		if !filepath.IsAbs(path) {
			return
		}
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "  stat %s size=%d mtime=%d\n", path, info.Size(), info.ModTime().UnixNano())
	case ty.IsListType(), ty.IsSetType(), ty.IsTupleType(), ty.IsMapType(), ty.IsObjectType():
		for it := val.ElementIterator(); it.Next(); {
			_, v := it.Element()
			writeFileStamps(w, v)
		}
	}
}

// loadResult returns the cached output in dir when its hash matches and
// every absolute path it mentions still exists.
func loadResult(dir, hash string) (cty.Value, bool, error) {
	raw, err := os.ReadFile(filepath.Join(dir, ResultFile))
	if errors.Is(err, fs.ErrNotExist) {
		return cty.NilVal, false, nil
	}
	if err != nil {
		return cty.NilVal, false, err
	}

	var res cachedResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return cty.NilVal, false, nil
	}
	if res.Hash != hash {
		return cty.NilVal, false, nil
	}
	ty, err := ctyjson.UnmarshalType(res.Type)
	if err != nil {
		return cty.NilVal, false, nil
	}
	val, err := ctyjson.Unmarshal(res.Outputs, ty)
	if err != nil {
		return cty.NilVal, false, nil
	}
	if !pathsExist(val) {
		return cty.NilVal, false, nil
	}
	return val, true, nil
}

// storeResult writes the output of a finished node next to its files.
func storeResult(dir, hash string, val cty.Value) error {
	ty, err := ctyjson.MarshalType(val.Type())
	if err != nil {
		return err
	}
	outputs, err := ctyjson.Marshal(val, val.Type())
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(cachedResult{Hash: hash, Type: ty, Outputs: outputs}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, ResultFile), raw, 0o644)
}

func pathsExist(val cty.Value) bool {
	if val.IsNull() || !val.IsKnown() {
		return true
	}
	ty := val.Type()
	switch {
	case ty == cty.String:
		s := val.AsString()
		if !filepath.IsAbs(s) {
			return true
		}
		_, err := os.Stat(s)
		return err == nil
	case ty.IsListType(), ty.IsSetType(), ty.IsTupleType(), ty.IsMapType(), ty.IsObjectType():
		for it := val.ElementIterator(); it.Next(); {
			_, v := it.Element()
			if !pathsExist(v) {
				return false
			}
		}
	}
	return true
}
