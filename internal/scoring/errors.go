package scoring

import (
	"github.com/rotisserie/eris"

	"github.com/geosight/geosight/internal/geo"
)

var (
	// ErrInvalidInput marks malformed job parameters or grid data. Jobs
	// failing with it never write progress. It is the grid loader's sentinel
	// so that grid file errors match it too.
	ErrInvalidInput = geo.ErrInvalidInput

	// ErrKilled is returned when the cancellation token reports the job as
	// killed at a category or batch boundary.
	ErrKilled = eris.New("scoring: job killed")
)
