package export

import (
	"context"

	"github.com/hb9tf/fieldsweep/analyzer"
)

type Exporter interface {
	Write(context.Context, *analyzer.Result) error
}
