package models

import "errors"

var errNegativeValue = errors.New("conversion_value must not be negative")
