package sink

// LangAnglish marks lemmas produced by this pipeline.
const LangAnglish = "an"

// Origin is a source-language code row.
type Origin struct {
	Code        string `gorm:"primaryKey;size:8"`
	Name        string `gorm:"not null"`
	Description *string
}

func (Origin) TableName() string { return "origin" }

// Lemma is one headword under one part of speech.
type Lemma struct {
	ID    uint   `gorm:"primaryKey"`
	Lemma string `gorm:"not null;index:idx_lemma_pos"`
	POS   string `gorm:"column:pos;size:1;not null;index:idx_lemma_pos"`
	Lang  string `gorm:"size:8;not null;default:an"`
}

func (Lemma) TableName() string { return "lemma" }

// Sense links a lemma to a reference synset.
type Sense struct {
	ID         uint   `gorm:"primaryKey"`
	LemmaID    uint   `gorm:"not null;index"`
	SynsetID   string `gorm:"not null;index"`
	SenseIndex int    `gorm:"not null;default:0"`
	Lemma      *Lemma `gorm:"foreignKey:LemmaID"`
}

func (Sense) TableName() string { return "sense" }

// LemmaOrigin records one etymological source of a lemma.
type LemmaOrigin struct {
	LemmaID    uint   `gorm:"primaryKey"`
	OriginCode string `gorm:"primaryKey;size:8"`
	Kind       string `gorm:"primaryKey;size:16"`
	Form       string
}

func (LemmaOrigin) TableName() string { return "lemma_origin" }
