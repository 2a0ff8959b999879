package lexicon

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// ConvertYAML converts every *.yaml file of an English WordNet source
// checkout (src/yaml) into the JSON layout Load reads. dstDir is replaced.
func ConvertYAML(ctx context.Context, srcDir, dstDir string) (int, error) {
	des, err := os.ReadDir(srcDir)
	if err != nil {
		return 0, fmt.Errorf("lexicon: convert: %w", err)
	}
	if err := os.RemoveAll(dstDir); err != nil {
		return 0, fmt.Errorf("lexicon: convert: %w", err)
	}
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return 0, fmt.Errorf("lexicon: convert: %w", err)
	}

	var n atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, de := range des {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, ".yaml") {
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := convertFile(filepath.Join(srcDir, name), filepath.Join(dstDir, strings.TrimSuffix(name, ".yaml")+".json")); err != nil {
				return fmt.Errorf("lexicon: convert %s: %w", name, err)
			}
			n.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(n.Load()), err
	}
	return int(n.Load()), nil
}

func convertFile(src, dst string) error {
	b, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	var doc any
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return err
	}
	out, err := json.Marshal(jsonable(doc))
	if err != nil {
		return err
	}
	return os.WriteFile(dst, out, 0o644)
}

// jsonable rewrites a decoded YAML tree so encoding/json accepts it. The
// lexicon has no numeric fields, so bare numerals (lemmas such as "1000")
// are kept as strings.
func jsonable(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, x := range t {
			t[k] = jsonable(x)
		}
		return t
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, x := range t {
			m[fmt.Sprint(k)] = jsonable(x)
		}
		return m
	case []any:
		for i, x := range t {
			t[i] = jsonable(x)
		}
		return t
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return v
	}
}
