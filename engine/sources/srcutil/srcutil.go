// Package srcutil holds the pieces every source adapter shares: stable raw
// record ids and etymology-string origin extraction.
package srcutil

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/WessleyAI/anglish-lexicon/engine/domain"
	"github.com/WessleyAI/anglish-lexicon/engine/llm"
)

const rawIDLen = 20

// RawID hashes the identity fields of a source record, newline separated.
func RawID(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\n")))
	return hex.EncodeToString(sum[:])[:rawIDLen]
}

// MatchOrigins finds language codes in s and returns one inherited origin
// per code, each carrying the whole string as its form.
func MatchOrigins(s string) []domain.WordOrigin {
	codes := domain.MatchLanguageCodes(s)
	out := make([]domain.WordOrigin, 0, len(codes))
	for _, l := range codes {
		out = append(out, domain.WordOrigin{Lang: l, Kind: domain.Inherited, Form: s})
	}
	return out
}

const originSystem = `You are a linguistic data extraction assistant. Your task is to parse etymology/origin strings from an Anglish dictionary and extract structured word origin information.
The origin string may contain:
- Language abbreviations (e.g., "PG", "OE", "ON") that map to specific languages
- Source word forms (e.g., "*bōtuz", "bōt")
- Origin kinds: inherited, derived, borrowed, cognate, compound, or calque
- Multiple origins separated by commas or other delimiters
Return an object with an "origins" property containing an array. Each origin has:
- lang: one of the language codes listed below (use the code, e.g. "PG" not "Proto-Germanic")
- kind: one of "inherited", "derived", "borrowed", "cognate", "compound", "calque"
- form: the source word form, or an empty string if none is given
Available language codes:
{ %s }
If you cannot extract valid origins, return {"origins": []}.`

type originReply struct {
	Origins []struct {
		Lang string `json:"lang"`
		Kind string `json:"kind"`
		Form string `json:"form"`
	} `json:"origins"`
}

func originSchema() *llm.Schema {
	langs := domain.Languages()
	codes := make([]string, len(langs))
	for i, l := range langs {
		codes[i] = string(l)
	}
	kinds := make([]string, len(domain.OriginKinds))
	for i, k := range domain.OriginKinds {
		kinds[i] = string(k)
	}
	return llm.Object(map[string]*llm.Schema{
		"origins": llm.ArrayOf(llm.Object(map[string]*llm.Schema{
			"lang": llm.Enum(codes...),
			"kind": llm.Enum(kinds...),
			"form": llm.String(),
		})),
	})
}

// ExtractOrigins asks the model for structured origins in an etymology
// string. Entries with an unknown language or kind are dropped; the error
// is non-nil only when the extraction itself failed.
func ExtractOrigins(ctx context.Context, c llm.Completer, etymology string) ([]domain.WordOrigin, error) {
	langs := domain.Languages()
	codes := make([]string, len(langs))
	for i, l := range langs {
		codes[i] = string(l)
	}
	req := llm.Request{
		System: fmt.Sprintf(originSystem, strings.Join(codes, ", ")),
		User: fmt.Sprintf("Extract word origins from this etymology string: %q\n"+
			"If the string contains multiple origins, extract all of them.\n"+
			`If no valid origins can be extracted, return {"origins": []}.`, etymology),
		Schema: originSchema(),
	}
	reply, err := llm.Extract[originReply](ctx, c, req, nil).Unwrap()
	if err != nil {
		return nil, err
	}
	out := make([]domain.WordOrigin, 0, len(reply.Origins))
	for _, o := range reply.Origins {
		lang, kind := domain.Language(o.Lang), domain.OriginKind(o.Kind)
		if !domain.ValidLanguage(lang) || !domain.ValidOriginKind(kind) {
			continue
		}
		out = append(out, domain.WordOrigin{Lang: lang, Kind: kind, Form: o.Form})
	}
	return out, nil
}
