package workspace

import (
	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/fileguard"
)

// FileRequest addresses a path inside an app directory. ExpectedLastModifiedMs
// is the caller's last observed timestamp; a value <= 0 means the file must
// not exist yet. Without it a mutation must set Force.
type FileRequest struct {
	UserID                 int64  `json:"userId"`
	AppID                  int64  `json:"appId"`
	Path                   string `json:"path"`
	NewPath                string `json:"newPath,omitempty"`
	Content                string `json:"content,omitempty"`
	CreateParents          bool   `json:"createParents,omitempty"`
	ForceWrite             bool   `json:"forceWrite,omitempty"`
	ExpectedLastModifiedMs *int64 `json:"expectedLastModifiedMs,omitempty"`
}

// FileResult is the state of a file after an operation; Path is app-relative.
type FileResult struct {
	Path           string `json:"path"`
	Size           int64  `json:"size"`
	LastModifiedMs int64  `json:"lastModifiedMs"`
	IsDir          bool   `json:"isDir,omitempty"`
	Content        string `json:"content,omitempty"`
}

func result(rel string, info fileguard.Info) FileResult {
	return FileResult{Path: rel, Size: info.Size, LastModifiedMs: info.LastModifiedMs, IsDir: info.IsDir}
}

func (r FileRequest) expectation() fileguard.Expectation {
	return fileguard.FromMillis(r.ExpectedLastModifiedMs)
}

func (s *Service) resolve(r FileRequest, rel string) (string, error) {
	return s.layout.Resolve(r.UserID, r.AppID, rel)
}

func (s *Service) ReadFile(r FileRequest) (FileResult, error) {
	p, err := s.resolve(r, r.Path)
	if err != nil {
		return FileResult{}, err
	}
	b, info, err := s.guard.Read(p)
	if err != nil {
		return FileResult{}, err
	}
	res := result(r.Path, info)
	res.Content = string(b)
	return res, nil
}

func (s *Service) WriteFile(r FileRequest) (FileResult, error) {
	p, err := s.resolve(r, r.Path)
	if err != nil {
		return FileResult{}, err
	}
	info, err := s.guard.Write(p, []byte(r.Content), r.expectation(), r.ForceWrite, r.CreateParents)
	if err != nil {
		return FileResult{}, err
	}
	return result(r.Path, info), nil
}

func (s *Service) RenameFile(r FileRequest) (FileResult, error) {
	from, err := s.resolve(r, r.Path)
	if err != nil {
		return FileResult{}, err
	}
	to, err := s.resolve(r, r.NewPath)
	if err != nil {
		return FileResult{}, err
	}
	info, err := s.guard.Rename(from, to, r.expectation(), r.ForceWrite, r.CreateParents)
	if err != nil {
		return FileResult{}, err
	}
	return result(r.NewPath, info), nil
}

func (s *Service) DeleteFile(r FileRequest) error {
	p, err := s.resolve(r, r.Path)
	if err != nil {
		return err
	}
	return s.guard.Delete(p, r.expectation(), r.ForceWrite)
}

func (s *Service) Mkdir(r FileRequest) (FileResult, error) {
	p, err := s.resolve(r, r.Path)
	if err != nil {
		return FileResult{}, err
	}
	info, err := s.guard.Mkdir(p)
	if err != nil {
		return FileResult{}, err
	}
	return result(r.Path, info), nil
}
