package acquisition

import "errors"

var errNoDevice = errors.New("no device attached")
