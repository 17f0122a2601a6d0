// Package gitlib clones repositories through libgit2 and reports what a
// working tree has checked out.
package gitlib

import (
	"errors"
	"fmt"

	git2go "github.com/libgit2/git2go/v34"
)

const shortCommitLen = 7

// ErrNotRepository indicates a directory has no readable git repository.
var ErrNotRepository = errors.New("not a git repository")

// Checkout is the state of a cloned or local working tree.
type Checkout struct {
	Dir string
	// Commit is the full hex id HEAD resolves to.
	Commit string
	// Branch is empty for a detached HEAD.
	Branch string
}

// ShortCommit abbreviates Commit the way run records show it.
func (c Checkout) ShortCommit() string {
	if len(c.Commit) <= shortCommitLen {
		return c.Commit
	}

	return c.Commit[:shortCommitLen]
}

// Inspect reports the checkout of the repository rooted at dir.
func Inspect(dir string) (Checkout, error) {
	repo, err := git2go.OpenRepository(dir)
	if err != nil {
		return Checkout{}, fmt.Errorf("%w: %s: %w", ErrNotRepository, dir, err)
	}
	defer repo.Free()

	return describe(repo, dir)
}

func describe(repo *git2go.Repository, dir string) (Checkout, error) {
	head, err := repo.Head()
	if err != nil {
		return Checkout{}, fmt.Errorf("resolve HEAD in %s: %w", dir, err)
	}
	defer head.Free()

	co := Checkout{Dir: dir, Commit: head.Target().String()}

	if head.IsBranch() {
		name, nameErr := head.Branch().Name()
		if nameErr != nil {
			return Checkout{}, fmt.Errorf("branch name in %s: %w", dir, nameErr)
		}

		co.Branch = name
	}

	return co, nil
}
