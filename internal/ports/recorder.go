package ports

import "github.com/dashlink/dashlink/internal/domain"

type Recorder interface {
	WriteBatch(recs []domain.Record) error
	Name() string
}
