package ginternals

import (
	"path"
	"strings"
)

// Ref namespaces.
// Refs are stored in unix format since that's how they appear in
// the ref names themselves; the backend converts to the current
// system when needed
const (
	refsDirName        = "refs"
	refsTagsRelPath    = refsDirName + "/tags"
	refsHeadsRelPath   = refsDirName + "/heads"
	refsRemotesRelPath = refsDirName + "/remotes"
)

// LocalBranchFullName returns the full name of branch
// ex. for `main` returns `refs/heads/main`
func LocalBranchFullName(shortName string) string {
	return path.Join(refsHeadsRelPath, shortName)
}

// LocalBranchShortName returns the short name of a branch
// ex. for `refs/heads/main` returns `main`
func LocalBranchShortName(fullName string) string {
	return strings.TrimPrefix(strings.TrimPrefix(fullName, refsHeadsRelPath), "/")
}

// IsLocalBranch returns whether a ref name points to a local branch
func IsLocalBranch(fullName string) bool {
	return strings.HasPrefix(fullName, refsHeadsRelPath+"/")
}

// RemoteBranchFullName returns the full name of a remote tracking
// branch
// ex. for `origin` and `main` returns `refs/remotes/origin/main`
func RemoteBranchFullName(remote, shortName string) string {
	return path.Join(refsRemotesRelPath, remote, shortName)
}

// LocalTagFullName returns the full name of a tag
// ex. for `my-tag` returns `refs/tags/my-tag`
func LocalTagFullName(shortName string) string {
	return path.Join(refsTagsRelPath, shortName)
}

// LocalTagShortName returns the short name of a tag
// ex. for refs/tags/my-tag returns my-tag
func LocalTagShortName(fullName string) string {
	return strings.TrimPrefix(strings.TrimPrefix(fullName, refsTagsRelPath), "/")
}
