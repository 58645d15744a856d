package gitrepo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// ErrNotArchived is returned when the requested session or commit is not in
// the archive.
var ErrNotArchived = errors.New("session not archived")

// Entry is an ended code session as written to its project's archive.
type Entry struct {
	SessionID    string    `json:"sessionId"`
	ProjectID    string    `json:"projectId"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	Language     string    `json:"language"`
	CreatorID    string    `json:"creatorId"`
	Participants []string  `json:"participants"`
	CreatedAt    time.Time `json:"createdAt"`
	EndedAt      time.Time `json:"endedAt"`
	Content      string    `json:"-"`
}

type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

// Service keeps one git repository per project. Every archived session is a
// commit that writes sessions/<id>/main.<ext> and sessions/<id>/session.json.
type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// extensions covers every language a session can be started with.
var extensions = map[string]string{
	"javascript": "js",
	"typescript": "ts",
	"python":     "py",
	"java":       "java",
	"cpp":        "cpp",
	"c":          "c",
	"go":         "go",
	"rust":       "rs",
	"php":        "php",
	"ruby":       "rb",
	"html":       "html",
	"css":        "css",
	"sql":        "sql",
	"json":       "json",
	"xml":        "xml",
	"yaml":       "yaml",
	"markdown":   "md",
	"bash":       "sh",
	"powershell": "ps1",
}

// SourceFile is the path of a session's buffer inside the archive.
func SourceFile(sessionID, language string) string {
	ext, ok := extensions[language]
	if !ok {
		ext = "txt"
	}
	return path.Join("sessions", sessionID, "main."+ext)
}

func metadataFile(sessionID string) string {
	return path.Join("sessions", sessionID, "session.json")
}

// Archive commits the final state of a session to its project's repository,
// creating the repository on first use.
func (s *Service) Archive(entry Entry) (CommitInfo, error) {
	lock := s.projectLock(entry.ProjectID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.ensureRepo(entry.ProjectID)
	if err != nil {
		return CommitInfo{}, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open worktree: %w", err)
	}
	root := worktree.Filesystem.Root()

	metadata, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return CommitInfo{}, fmt.Errorf("marshal session metadata: %w", err)
	}
	files := map[string][]byte{
		SourceFile(entry.SessionID, entry.Language): []byte(entry.Content),
		metadataFile(entry.SessionID):               append(metadata, '\n'),
	}
	for name, payload := range files {
		target := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return CommitInfo{}, fmt.Errorf("create session dir: %w", err)
		}
		if err := os.WriteFile(target, payload, 0o644); err != nil {
			return CommitInfo{}, fmt.Errorf("write %s: %w", name, err)
		}
		if _, err := worktree.Add(name); err != nil {
			return CommitInfo{}, fmt.Errorf("git add %s: %w", name, err)
		}
	}

	hash, err := worktree.Commit(fmt.Sprintf("Archive code session %q (%s)", entry.Name, entry.SessionID), &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  entry.CreatorID,
			Email: fmt.Sprintf("%s@sessions.devconnect.local", sanitizeEmail(entry.CreatorID)),
			When:  entry.EndedAt,
		},
	})
	if err != nil {
		return CommitInfo{}, fmt.Errorf("commit session: %w", err)
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

// History lists archive commits of a project, newest first. A project that
// never archived a session has an empty history.
func (s *Service) History(projectID string, limit int) ([]CommitInfo, error) {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(projectID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []CommitInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return nil, fmt.Errorf("resolve branch main: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]CommitInfo, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		if commitObj.NumParents() == 0 {
			return nil
		}
		items = append(items, toCommitInfo(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// Content returns the archived buffer of a session. An empty hash selects the
// newest commit that touched the session.
func (s *Service) Content(projectID, sessionID, language, hash string) (string, CommitInfo, error) {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(projectID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return "", CommitInfo{}, ErrNotArchived
	}
	if err != nil {
		return "", CommitInfo{}, fmt.Errorf("open repo: %w", err)
	}

	name := SourceFile(sessionID, language)
	var commitObj *object.Commit
	if hash == "" {
		commitObj, err = latestTouching(repo, name)
	} else {
		commitObj, err = commitByHash(repo, hash)
	}
	if err != nil {
		return "", CommitInfo{}, err
	}

	file, err := commitObj.File(name)
	if errors.Is(err, object.ErrFileNotFound) {
		return "", CommitInfo{}, ErrNotArchived
	}
	if err != nil {
		return "", CommitInfo{}, fmt.Errorf("load session file from commit: %w", err)
	}
	content, err := file.Contents()
	if err != nil {
		return "", CommitInfo{}, fmt.Errorf("read session file: %w", err)
	}
	return content, toCommitInfo(commitObj), nil
}

func latestTouching(repo *git.Repository, name string) (*object.Commit, error) {
	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return nil, fmt.Errorf("resolve branch main: %w", err)
	}
	iter, err := repo.Log(&git.LogOptions{From: ref.Hash(), FileName: &name})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	commitObj, err := iter.Next()
	if errors.Is(err, io.EOF) {
		return nil, ErrNotArchived
	}
	if err != nil {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return commitObj, nil
}

func commitByHash(repo *git.Repository, hash string) (*object.Commit, error) {
	resolvedHash, err := resolveHash(repo, hash)
	if err != nil {
		return nil, err
	}
	commitObj, err := repo.CommitObject(resolvedHash)
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return nil, ErrNotArchived
	}
	if err != nil {
		return nil, fmt.Errorf("read commit %s: %w", hash, err)
	}
	return commitObj, nil
}

func (s *Service) ensureRepo(projectID string) (*git.Repository, error) {
	repoPath := s.repoPath(projectID)
	repo, err := git.PlainOpen(repoPath)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(repoPath, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(repoPath, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("open worktree: %w", err)
	}
	hash, err := worktree.Commit("Initialize code session archive", &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  "DevConnect",
			Email: "archive@sessions.devconnect.local",
			When:  time.Now(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("commit archive baseline: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), hash)); err != nil {
		return nil, fmt.Errorf("set main branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(projectID string) string {
	return filepath.Join(s.baseDir, sanitizePath(projectID))
}

func (s *Service) projectLock(projectID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[projectID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[projectID] = lock
	return lock
}

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	return CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

// sanitizePath keeps project ids from escaping the archive directory.
func sanitizePath(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			out = append(out, r)
			continue
		}
		out = append(out, '_')
	}
	if len(out) == 0 {
		return "_"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("%w: resolve %s: %v", ErrNotArchived, hash, err)
	}
	return *resolved, nil
}
