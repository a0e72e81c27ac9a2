package source

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/segmentio/ksuid"
	"github.com/studiowebux/searchmeter/internal/types"
)

// Field generator names
const (
	FieldWord = "word"
	FieldText = "text"
	FieldInt  = "int"
	FieldBool = "bool"
)

var defaultVocabulary = []string{
	"search", "index", "shard", "replica", "query", "filter", "facet", "score",
	"token", "analyzer", "stemming", "synonym", "boost", "commit", "segment", "merge",
	"cache", "field", "schema", "document", "collection", "cluster", "leader", "core",
}

// FieldSpec describes how one field of a synthetic document is generated.
// Words is used by "text"; Min and Max bound "int".
type FieldSpec struct {
	Name  string `yaml:"name" json:"name" validate:"required"`
	Type  string `yaml:"type" json:"type" validate:"required,oneof=word text int bool"`
	Words int    `yaml:"words" json:"words"`
	Min   int    `yaml:"min" json:"min"`
	Max   int    `yaml:"max" json:"max"`
}

// Synthetic generates update batches of random documents. It never exhausts.
type Synthetic struct {
	batchSize  int
	fields     []FieldSpec
	vocabulary []string
}

// NewSynthetic creates a generator producing batchSize documents per payload
func NewSynthetic(batchSize int, fields []FieldSpec, vocabulary []string) (*Synthetic, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be greater than 0")
	}
	for _, f := range fields {
		switch f.Type {
		case FieldWord, FieldBool:
		case FieldText:
			if f.Words <= 0 {
				return nil, fmt.Errorf("field %s: text fields need words > 0", f.Name)
			}
		case FieldInt:
			if f.Max < f.Min {
				return nil, fmt.Errorf("field %s: max must be >= min", f.Name)
			}
		default:
			return nil, fmt.Errorf("field %s: unknown generator %q", f.Name, f.Type)
		}
	}
	if len(vocabulary) == 0 {
		vocabulary = defaultVocabulary
	}
	return &Synthetic{batchSize: batchSize, fields: fields, vocabulary: vocabulary}, nil
}

// Next returns a freshly generated batch
func (s *Synthetic) Next() (types.Payload, error) {
	docs := make([]map[string]any, s.batchSize)
	for i := range docs {
		docs[i] = s.document()
	}
	return types.Payload{Documents: docs}, nil
}

// Repeatable is always true for generated documents
func (s *Synthetic) Repeatable() bool { return true }

func (s *Synthetic) document() map[string]any {
	doc := map[string]any{"id": ksuid.New().String()}
	for _, f := range s.fields {
		switch f.Type {
		case FieldWord:
			doc[f.Name] = s.word()
		case FieldText:
			words := make([]string, f.Words)
			for i := range words {
				words[i] = s.word()
			}
			doc[f.Name] = strings.Join(words, " ")
		case FieldInt:
			doc[f.Name] = f.Min + rand.IntN(f.Max-f.Min+1)
		case FieldBool:
			doc[f.Name] = rand.IntN(2) == 1
		}
	}
	return doc
}

func (s *Synthetic) word() string {
	return s.vocabulary[rand.IntN(len(s.vocabulary))]
}
