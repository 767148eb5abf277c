package engine

import (
	"context"
	"path"
	"strings"

	"github.com/foldervault/foldervault/internal/drive"
)

// uploadPath is a parsed relative upload path.
type uploadPath struct {
	dir   string // "/"-joined folder segments, "" for the upload root
	name  string
	depth int
}

// parseUploadPath normalizes a client supplied relative path. Backslashes count as
// separators, leading slashes and "." segments are dropped, ".." is rejected.
func parseUploadPath(p string) (uploadPath, error) {
	p = strings.ReplaceAll(p, "\\", "/")
	for _, seg := range strings.Split(p, "/") {
		if strings.TrimSpace(seg) == ".." {
			return uploadPath{}, drive.Errorf(drive.KindInvalidArgument, "", "path %q escapes the upload root", p)
		}
	}
	cleaned := strings.TrimPrefix(path.Clean("/"+p), "/")
	if cleaned == "" || strings.HasSuffix(p, "/") {
		return uploadPath{}, drive.Errorf(drive.KindInvalidArgument, "", "file name is required")
	}

	segs := strings.Split(cleaned, "/")
	for i, seg := range segs {
		name, err := drive.ValidateName(seg)
		if err != nil {
			return uploadPath{}, err
		}
		segs[i] = name
	}
	last := len(segs) - 1
	return uploadPath{
		dir:   strings.Join(segs[:last], "/"),
		name:  segs[last],
		depth: last,
	}, nil
}

// pathResolver maps directory prefixes of one upload batch to folder ids, creating
// each missing folder at most once.
type pathResolver struct {
	e     *Engine
	owner string
	memo  map[string]*string // prefix -> folder id, nil for the tree root
	made  int
}

func newPathResolver(e *Engine, owner string, root *string) *pathResolver {
	return &pathResolver{
		e:     e,
		owner: owner,
		memo:  map[string]*string{"": root},
	}
}

// resolve returns the folder id for dir, walking its segments and memoizing every
// prefix on the way.
func (r *pathResolver) resolve(ctx context.Context, dir string) (*string, error) {
	if id, ok := r.memo[dir]; ok {
		return id, nil
	}

	parent := r.memo[""]
	prefix := ""
	for _, seg := range strings.Split(dir, "/") {
		if prefix == "" {
			prefix = seg
		} else {
			prefix += "/" + seg
		}
		if id, ok := r.memo[prefix]; ok {
			parent = id
			continue
		}
		id, err := r.folderFor(ctx, parent, seg)
		if err != nil {
			return nil, err
		}
		r.memo[prefix] = id
		parent = id
	}
	return parent, nil
}

// folderFor reuses an active folder called name under parent or creates one.
func (r *pathResolver) folderFor(ctx context.Context, parent *string, name string) (*string, error) {
	q := drive.Children(r.owner, drive.StrVal(parent))
	q.Trashed = drive.Bool(false)
	q.NameContains = name
	existing, err := r.e.meta.QueryFolders(ctx, q)
	if err != nil {
		return nil, drive.WithOp("resolve folder", drive.KindMetadataFailure, err)
	}
	for _, f := range existing {
		if f.Name == name {
			id := f.ID
			return &id, nil
		}
	}

	now := r.e.now()
	f := &drive.Folder{
		ID:        r.e.newID(),
		Name:      name,
		ParentID:  parent,
		OwnerID:   r.owner,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.e.meta.InsertFolder(ctx, f); err != nil {
		return nil, drive.WithOp("create folder", drive.KindMetadataFailure, err)
	}
	r.made++
	r.e.logger.Debug().
		Str("folder_id", f.ID).
		Str("name", name).
		Str("parent_id", drive.StrVal(parent)).
		Msg("Created folder for upload path")
	return &f.ID, nil
}
