package model

import "github.com/rotisserie/eris"

// ErrInvalidRequest is returned when a request cannot be resolved at all,
// such as an empty question.
var ErrInvalidRequest = eris.New("invalid request")
