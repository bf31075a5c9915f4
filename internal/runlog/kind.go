package runlog

import (
	"fmt"
	"strings"

	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/runmeta"
	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/werr"
)

// Kind is the log type a caller asks for.
type Kind string

const (
	KindBuild   Kind = "BUILD"
	KindInstall Kind = "INSTALL"
	KindPreview Kind = "PREVIEW"
)

// ParseKind accepts BUILD, INSTALL and PREVIEW (START and DEV are aliases of PREVIEW).
// An empty value defaults to PREVIEW.
func ParseKind(s string) (Kind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "PREVIEW", "START", "DEV":
		return KindPreview, nil
	case "BUILD":
		return KindBuild, nil
	case "INSTALL":
		return KindInstall, nil
	default:
		return "", fmt.Errorf("unknown log type %q: %w", s, werr.ErrInvalidArgument)
	}
}

// Op is the operation name embedded in log file names.
func (k Kind) Op() string {
	switch k {
	case KindBuild:
		return "build"
	case KindInstall:
		return "install"
	default:
		return "start"
	}
}

// MetaType is the run metadata type that produces logs of this kind.
func (k Kind) MetaType() runmeta.Type {
	switch k {
	case KindBuild:
		return runmeta.TypeBuild
	case KindInstall:
		return runmeta.TypeInstall
	default:
		return runmeta.TypeStart
	}
}
