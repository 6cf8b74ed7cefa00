package ids

import "github.com/segmentio/ksuid"

func New() string {
	return ksuid.New().String()
}

func NewResource() string {
	return "res_" + ksuid.New().String()
}

func NewFix() string {
	return "fix_" + ksuid.New().String()
}
