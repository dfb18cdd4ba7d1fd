// Package uploadspec maps a root directory and a list of files onto the paths they are
// uploaded to within an artifact's container on the remote.
package uploadspec

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/op/go-logging.v1"
)

var log = logging.MustGetLogger("uploadspec")

// invalidCharacters are rejected by the server in both artifact names and file paths.
var invalidCharacters = map[rune]string{
	'"':  `Double quote "`,
	':':  `Colon :`,
	'<':  `Less than <`,
	'>':  `Greater than >`,
	'|':  `Vertical bar |`,
	'*':  `Asterisk *`,
	'?':  `Question mark ?`,
	'\r': `Carriage return \r`,
	'\n': `Line feed \n`,
}

// An Entry describes where a single local file is uploaded to.
type Entry struct {
	// AbsoluteFilePath is the resolved location of the file on disk.
	AbsoluteFilePath string
	// UploadFilePath is the path in the container, rooted at the artifact name and always
	// separated by forward slashes.
	UploadFilePath string
}

// Build creates the specification of how each file in an artifact will be uploaded.
// rootDirectory is stripped from the start of each file to produce its path within the artifact.
// Directories in the file list are skipped since the server rejects them; any other file
// must exist and be contained within rootDirectory.
func Build(artifactName, rootDirectory string, files []string) ([]Entry, error) {
	if err := CheckArtifactName(artifactName); err != nil {
		return nil, err
	}
	info, err := os.Stat(rootDirectory)
	if os.IsNotExist(err) {
		return nil, &NotFoundError{Path: rootDirectory, What: "root directory"}
	} else if err != nil {
		return nil, err
	} else if !info.IsDir() {
		return nil, &NotFoundError{Path: rootDirectory, What: "root directory", NotDirectory: true}
	}
	root, err := resolve(rootDirectory)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(files))
	for _, file := range files {
		info, err := os.Stat(file)
		if os.IsNotExist(err) {
			return nil, &NotFoundError{Path: file, What: "file"}
		} else if err != nil {
			return nil, err
		} else if info.IsDir() {
			log.Debug("Removing %s from the file list because it is a directory", file)
			continue
		}
		resolved, err := resolve(file)
		if err != nil {
			return nil, err
		}
		rel, ok := relative(root, resolved)
		if !ok {
			return nil, &ValidationError{
				Path:   resolved,
				Reason: fmt.Sprintf("the root directory %s is not a parent directory of it", root),
			}
		}
		if err := CheckArtifactFilePath(rel); err != nil {
			return nil, err
		}
		entries = append(entries, Entry{
			AbsoluteFilePath: resolved,
			UploadFilePath:   uploadPath(artifactName, rel),
		})
	}
	return entries, nil
}

// CheckArtifactName checks that an artifact name contains no characters the server rejects.
func CheckArtifactName(name string) error {
	if name == "" {
		return &ValidationError{Name: name, Reason: "artifact name is empty"}
	} else if strings.TrimSpace(name) != name {
		return &ValidationError{Name: name, Reason: "artifact name has leading or trailing whitespace"}
	}
	for _, r := range name {
		if desc, present := invalidCharacters[r]; present {
			return &ValidationError{Name: name, Reason: "artifact name contains an invalid character: " + desc}
		}
	}
	for _, segment := range strings.Split(name, "/") {
		if segment == "." || segment == ".." {
			return &ValidationError{Name: name, Reason: "artifact name contains a relative path segment " + segment}
		}
	}
	return nil
}

// uploadPath returns the path in the container of a file within an artifact.
// The artifact name is kept as given apart from collapsing repeated slashes, so the result
// always starts with it.
func uploadPath(artifactName, rel string) string {
	p := strings.TrimRight(artifactName, "/") + "/" + rel
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	return p
}

// CheckArtifactFilePath checks that a file's path within an artifact is acceptable to the server.
// It expects forward slashes as separators.
func CheckArtifactFilePath(p string) error {
	for _, r := range p {
		if desc, present := invalidCharacters[r]; present {
			return &ValidationError{Path: p, Reason: "file path contains an invalid character: " + desc}
		}
	}
	for _, segment := range strings.Split(p, "/") {
		if segment == ".." {
			return &ValidationError{Path: p, Reason: "file path contains a parent directory reference"}
		}
	}
	return nil
}

// resolve makes a path absolute, cleans it and evaluates any symlinks in it.
func resolve(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

// relative returns the slash-separated path of file under root, or false if root does not contain it.
func relative(root, file string) (string, bool) {
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	if !strings.HasPrefix(file, prefix) {
		return "", false
	}
	return filepath.ToSlash(strings.TrimPrefix(file, prefix)), true
}
