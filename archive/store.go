package archive

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pevans/blogmirror/logging"
)

// Document is the on-disk shape of the store file.
type Document struct {
	Posts      []Post          `json:"posts"`
	Categories []CategoryCount `json:"categories"`
	Tags       []TagCount      `json:"tags"`
}

// Renderer turns a post into its artifact bytes. It must be deterministic.
type Renderer interface {
	Render(Post) ([]byte, error)
}

// Config configures a Store.
type Config struct {
	// IndexPath is the JSON store file.
	IndexPath string

	// ArtifactDir holds one rendered page per post.
	ArtifactDir string

	Renderer Renderer
	Logger   logging.Logger

	// Now supplies the date for posts created without one. Default:
	// time.Now.
	Now func() time.Time

	// NewID allocates post IDs. Default: random UUIDs, which are never
	// reused.
	NewID func() string
}

// Change says what an upsert did.
type Change int

const (
	Unchanged Change = iota
	Created
	Updated
)

func (c Change) String() string {
	switch c {
	case Created:
		return "created"
	case Updated:
		return "updated"
	default:
		return "unchanged"
	}
}

// Store is the post store. All mutations are serialised by one mutex, so a
// Store is the single writer for its files within a process. Every mutation
// either lands completely, store file and artifact together, or leaves both
// as they were.
type Store struct {
	mu       sync.Mutex
	cfg      Config
	doc      Document
	renderer Renderer
	logger   logging.Logger
}

// Open loads the store file, creating the artifact directory if needed. A
// missing store file is an empty store.
func Open(cfg Config) (*Store, error) {
	if cfg.IndexPath == "" || cfg.ArtifactDir == "" {
		return nil, fmt.Errorf("index path and artifact directory are required")
	}
	if cfg.Renderer == nil {
		return nil, fmt.Errorf("renderer is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return uuid.New().String() }
	}

	if err := os.MkdirAll(cfg.ArtifactDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}

	doc, err := readDocument(cfg.IndexPath)
	if err != nil {
		return nil, err
	}

	return &Store{
		cfg:      cfg,
		doc:      doc,
		renderer: cfg.Renderer,
		logger:   cfg.Logger,
	}, nil
}

func readDocument(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Document{Posts: []Post{}, Categories: []CategoryCount{}, Tags: []TagCount{}}, nil
	}
	if err != nil {
		return Document{}, fmt.Errorf("failed to read store file: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("failed to parse store file: %w", err)
	}
	for i := range doc.Posts {
		doc.Posts[i] = doc.Posts[i].clone()
	}
	if doc.Posts == nil {
		doc.Posts = []Post{}
	}
	return doc, nil
}

// IndexPath returns the store file path.
func (s *Store) IndexPath() string { return s.cfg.IndexPath }

// ArtifactDir returns the artifact directory.
func (s *Store) ArtifactDir() string { return s.cfg.ArtifactDir }

// ArtifactPath returns the full path of an artifact.
func (s *Store) ArtifactPath(filename string) string {
	return filepath.Join(s.cfg.ArtifactDir, filename)
}

// Upsert inserts post, or replaces the post with the same original URL. A
// replaced post keeps its ID and filename; every other field comes from the
// new record. Posts without an original URL (hand-written ones) are matched
// by ID instead. The index is rebuilt and the artifact re-rendered.
func (s *Store) Upsert(post Post) (Post, Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsert(post)
}

func (s *Store) upsert(post Post) (Post, Change, error) {
	post = prepare(post.clone(), s.today())
	if err := post.validate(); err != nil {
		return Post{}, Unchanged, err
	}

	idx := s.find(post)
	posts := s.copyPosts()
	change := Created

	if idx >= 0 {
		old := posts[idx]
		post.ID = old.ID
		post.Filename = old.Filename
		if post.equal(old) && s.artifactCurrent(post) {
			return post.clone(), Unchanged, nil
		}
		posts[idx] = post
		change = Updated
	} else {
		post.ID = s.cfg.NewID()
		if post.Filename == "" {
			post.Filename = s.allocateFilename(post)
		} else if err := s.checkFreeFilename(post.Filename, ""); err != nil {
			return Post{}, Unchanged, err
		}
		posts = append(posts, post)
	}

	if err := s.writeWithArtifact(posts, post); err != nil {
		return Post{}, Unchanged, err
	}

	s.logger.Info("Post stored",
		logging.String("change", change.String()),
		logging.String("id", post.ID),
		logging.String("filename", post.Filename),
		logging.String("original_url", post.OriginalURL),
	)
	return post.clone(), change, nil
}

// CreateRequest is a hand-authored post.
type CreateRequest struct {
	Title    string
	Category string
	Tags     []string
	Content  string
}

// PlaceholderContent is the body of a newly created post until its author
// edits it.
const PlaceholderContent = "<p>Write the post here.</p>"

// Create adds a hand-authored post dated today with the next free numbered
// filename.
func (s *Store) Create(req CreateRequest) (Post, error) {
	content := req.Content
	if strings.TrimSpace(content) == "" {
		content = PlaceholderContent
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	post, _, err := s.upsert(Post{
		Title:    req.Title,
		Category: req.Category,
		Tags:     req.Tags,
		Content:  content,
		Filename: s.nextNumberedFilename(),
	})
	return post, err
}

// Delete removes the post with filename together with its artifact. If the
// artifact cannot be removed the post stays in the store. An artifact that
// is already missing does not block the delete.
func (s *Store) Delete(filename string) (Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOfFilename(filename)
	if idx < 0 {
		return Post{}, fmt.Errorf("%w: %s", ErrNotFound, filename)
	}
	victim := s.doc.Posts[idx]

	path := s.ArtifactPath(filename)
	trash := s.ArtifactPath("." + filename + ".deleting")
	removed := true
	if err := os.Rename(path, trash); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Post{}, &IntegrityError{Op: "delete", Filename: filename, Err: err}
		}
		removed = false
		s.logger.Warn("Deleting post whose artifact is already missing", logging.String("filename", filename))
	}

	posts := s.copyPosts()
	posts = append(posts[:idx], posts[idx+1:]...)

	if err := s.commit(posts); err != nil {
		if removed {
			if rerr := os.Rename(trash, path); rerr != nil {
				s.logger.Error("Failed to restore artifact after aborted delete",
					logging.String("filename", filename), logging.Err(rerr))
			}
		}
		return Post{}, &IntegrityError{Op: "delete", Filename: filename, Err: err}
	}

	if removed {
		if err := os.Remove(trash); err != nil {
			s.logger.Warn("Failed to remove deleted artifact", logging.String("filename", filename), logging.Err(err))
		}
	}

	s.logger.Info("Post deleted", logging.String("id", victim.ID), logging.String("filename", filename))
	return victim.clone(), nil
}

// Rename changes a post's filename and moves its artifact. The new name must
// not belong to another post or to an existing file.
func (s *Store) Rename(oldName, newName string) (Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !ValidFilename(newName) {
		return Post{}, fmt.Errorf("%w: filename %q", ErrInvalid, newName)
	}

	idx := s.indexOfFilename(oldName)
	if idx < 0 {
		return Post{}, fmt.Errorf("%w: %s", ErrNotFound, oldName)
	}
	if oldName == newName {
		return s.doc.Posts[idx].clone(), nil
	}
	if err := s.checkFreeFilename(newName, oldName); err != nil {
		return Post{}, err
	}

	oldPath, newPath := s.ArtifactPath(oldName), s.ArtifactPath(newName)
	if err := os.Rename(oldPath, newPath); err != nil {
		return Post{}, &IntegrityError{Op: "rename", Filename: oldName, Err: err}
	}

	posts := s.copyPosts()
	posts[idx].Filename = newName

	if err := s.commit(posts); err != nil {
		if rerr := os.Rename(newPath, oldPath); rerr != nil {
			s.logger.Error("Failed to roll back artifact rename",
				logging.String("from", newName), logging.String("to", oldName), logging.Err(rerr))
		}
		return Post{}, &IntegrityError{Op: "rename", Filename: oldName, Err: err}
	}

	s.logger.Info("Post renamed", logging.String("from", oldName), logging.String("to", newName))
	return posts[idx].clone(), nil
}

// RenderAll re-renders every artifact, rewriting only those whose bytes
// changed. It returns the number of artifacts written.
func (s *Store) RenderAll() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	written := 0
	for _, post := range s.doc.Posts {
		data, err := s.renderer.Render(post)
		if err != nil {
			return written, fmt.Errorf("failed to render %s: %w", post.Filename, err)
		}
		current, err := os.ReadFile(s.ArtifactPath(post.Filename))
		if err == nil && bytes.Equal(current, data) {
			continue
		}
		if err := writeFileAtomic(s.ArtifactPath(post.Filename), data); err != nil {
			return written, &IntegrityError{Op: "render", Filename: post.Filename, Err: err}
		}
		written++
	}
	return written, nil
}

// Posts returns every post in store order.
func (s *Store) Posts() []Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyPosts()
}

// Sorted returns every post newest first.
func (s *Store) Sorted() []Post {
	return SortByDate(s.Posts())
}

// Get returns the post with the given ID.
func (s *Store) Get(id string) (Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.doc.Posts {
		if p.ID == id {
			return p.clone(), nil
		}
	}
	return Post{}, fmt.Errorf("%w: id %s", ErrNotFound, id)
}

// GetByFilename returns the post owning filename.
func (s *Store) GetByFilename(filename string) (Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.indexOfFilename(filename); idx >= 0 {
		return s.doc.Posts[idx].clone(), nil
	}
	return Post{}, fmt.Errorf("%w: %s", ErrNotFound, filename)
}

// OriginalURLs lists the source URL of every crawled post.
func (s *Store) OriginalURLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var urls []string
	for _, p := range s.doc.Posts {
		if p.OriginalURL != "" {
			urls = append(urls, p.OriginalURL)
		}
	}
	return urls
}

// Categories returns the category index as last written.
func (s *Store) Categories() []CategoryCount {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CategoryCount{}, s.doc.Categories...)
}

// Tags returns the tag index as last written.
func (s *Store) Tags() []TagCount {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]TagCount{}, s.doc.Tags...)
}

func (s *Store) today() string {
	return s.cfg.Now().Format("2006-01-02")
}

func (s *Store) copyPosts() []Post {
	posts := make([]Post, len(s.doc.Posts))
	for i, p := range s.doc.Posts {
		posts[i] = p.clone()
	}
	return posts
}

func (s *Store) find(post Post) int {
	for i, p := range s.doc.Posts {
		if post.OriginalURL != "" && p.OriginalURL == post.OriginalURL {
			return i
		}
		if post.OriginalURL == "" && post.ID != "" && p.ID == post.ID {
			return i
		}
	}
	return -1
}

func (s *Store) indexOfFilename(filename string) int {
	for i, p := range s.doc.Posts {
		if p.Filename == filename {
			return i
		}
	}
	return -1
}

// checkFreeFilename fails with ErrConflict if name belongs to a post other
// than the one currently named owner, or exists on disk unowned.
func (s *Store) checkFreeFilename(name, owner string) error {
	if !ValidFilename(name) {
		return fmt.Errorf("%w: filename %q", ErrInvalid, name)
	}
	if idx := s.indexOfFilename(name); idx >= 0 && name != owner {
		return fmt.Errorf("%w: %s", ErrConflict, name)
	}
	if _, err := os.Stat(s.ArtifactPath(name)); err == nil {
		return fmt.Errorf("%w: %s exists on disk", ErrConflict, name)
	}
	return nil
}

func (s *Store) filenameTaken(name string) bool {
	if s.indexOfFilename(name) >= 0 {
		return true
	}
	_, err := os.Stat(s.ArtifactPath(name))
	return err == nil
}

func (s *Store) allocateFilename(post Post) string {
	if post.OriginalURL == "" {
		return s.nextNumberedFilename()
	}
	return uniqueFilename(SlugFilename(post.Date, post.Title), s.filenameTaken)
}

func (s *Store) nextNumberedFilename() string {
	names := make([]string, 0, len(s.doc.Posts))
	for _, p := range s.doc.Posts {
		names = append(names, p.Filename)
	}
	if entries, err := os.ReadDir(s.cfg.ArtifactDir); err == nil {
		for _, e := range entries {
			names = append(names, e.Name())
		}
	}
	return uniqueFilename(NumberedFilename(nextNumber(names)), s.filenameTaken)
}

func (s *Store) artifactCurrent(post Post) bool {
	data, err := s.renderer.Render(post)
	if err != nil {
		return false
	}
	current, err := os.ReadFile(s.ArtifactPath(post.Filename))
	return err == nil && bytes.Equal(current, data)
}

// writeWithArtifact renders and writes post's artifact, then commits posts.
// If the commit fails the previous artifact (or its absence) is restored.
func (s *Store) writeWithArtifact(posts []Post, post Post) error {
	data, err := s.renderer.Render(post)
	if err != nil {
		return fmt.Errorf("failed to render %s: %w", post.Filename, err)
	}

	path := s.ArtifactPath(post.Filename)
	previous, readErr := os.ReadFile(path)
	hadPrevious := readErr == nil

	if err := writeFileAtomic(path, data); err != nil {
		return &IntegrityError{Op: "upsert", Filename: post.Filename, Err: err}
	}

	if err := s.commit(posts); err != nil {
		var rerr error
		if hadPrevious {
			rerr = writeFileAtomic(path, previous)
		} else {
			rerr = os.Remove(path)
		}
		if rerr != nil {
			s.logger.Error("Failed to roll back artifact", logging.String("filename", post.Filename), logging.Err(rerr))
		}
		return &IntegrityError{Op: "upsert", Filename: post.Filename, Err: err}
	}
	return nil
}

// commit rebuilds the indices for posts, rewrites the whole store file and
// only then adopts the new state.
func (s *Store) commit(posts []Post) error {
	categories, tags := BuildIndex(posts)
	doc := Document{Posts: posts, Categories: categories, Tags: tags}

	data, err := encodeDocument(doc)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.cfg.IndexPath, data); err != nil {
		return fmt.Errorf("failed to write store file: %w", err)
	}

	s.doc = doc
	return nil
}

func encodeDocument(doc Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to marshal store: %w", err)
	}
	return buf.Bytes(), nil
}

// writeFileAtomic writes data to a hidden temporary file next to path and
// renames it into place, so readers see either the old or the new content.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
