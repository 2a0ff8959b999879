package domain

import "strings"

// ValidateNormalized checks a record is fit to leave the normalize stage.
func ValidateNormalized(r NormalizedRecord) error {
	if strings.TrimSpace(r.Lemma) == "" || !IsWord(r.Lemma) {
		return NewValidationError("lemma", r.Lemma, ErrInvalidLemma)
	}
	if !ValidPOS(r.POS) {
		return NewValidationError("pos", string(r.POS), ErrInvalidPOS)
	}
	for _, o := range r.Origins {
		if !ValidLanguage(o.Lang) {
			return NewValidationError("origins.lang", string(o.Lang), ErrInvalidOrigin)
		}
		if !ValidOriginKind(o.Kind) {
			return NewValidationError("origins.kind", string(o.Kind), ErrInvalidOrigin)
		}
	}
	return nil
}
