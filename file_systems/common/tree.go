package common

import (
	"fmt"
	"os"
	"path"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/theos-os/imager"
)

// Node is one file or directory of the source tree, fully read into memory.
type Node struct {
	// Name is the base name of the node. It's empty for the root.
	Name string
	// Path is the slash-separated path relative to the source root, starting
	// with "/". The root's path is "/".
	Path     string
	IsDir    bool
	Mode     os.FileMode
	ModTime  time.Time
	Data     []byte
	Children []*Node
}

// Size returns the number of bytes of file data. Directories have size 0.
func (n *Node) Size() int64 {
	return int64(len(n.Data))
}

// Walk calls `fn` on this node and then every descendant, in pre-order. Children
// are visited in the order they appear in Children.
func (n *Node) Walk(fn func(node *Node) error) error {
	err := fn(n)
	if err != nil {
		return err
	}
	for _, child := range n.Children {
		err = child.Walk(fn)
		if err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of files and directories under this node, excluding
// the node itself.
func (n *Node) Count() (files, directories int) {
	for _, child := range n.Children {
		if child.IsDir {
			directories++
			f, d := child.Count()
			files += f
			directories += d
		} else {
			files++
		}
	}
	return files, directories
}

// ReadTree reads the directory `root` of `fs` and everything under it into
// memory. Children are sorted by name. Entries that are neither regular files
// nor directories are skipped.
//
// Failures reading individual entries don't stop the traversal; all of them are
// returned together as one ErrIO.
func ReadTree(fs afero.Fs, root string) (*Node, error) {
	info, err := fs.Stat(root)
	if err != nil {
		return nil, imager.ErrIO.WithMessage(root).Wrap(err)
	}
	if !info.IsDir() {
		return nil, imager.ErrNotADirectory.WithMessage(root)
	}

	rootNode := &Node{
		Path:    "/",
		IsDir:   true,
		Mode:    info.Mode(),
		ModTime: info.ModTime(),
	}

	var problems *multierror.Error
	readDirectory(fs, root, rootNode, &problems)
	if problems != nil {
		return nil, imager.ErrIO.Wrap(problems.ErrorOrNil())
	}
	return rootNode, nil
}

func readDirectory(fs afero.Fs, hostPath string, parent *Node, problems **multierror.Error) {
	entries, err := afero.ReadDir(fs, hostPath)
	if err != nil {
		*problems = multierror.Append(*problems, fmt.Errorf("%s: %w", hostPath, err))
		return
	}

	for _, entry := range entries {
		childHostPath := path.Join(hostPath, entry.Name())
		child := &Node{
			Name:    entry.Name(),
			Path:    path.Join(parent.Path, entry.Name()),
			IsDir:   entry.IsDir(),
			Mode:    entry.Mode(),
			ModTime: entry.ModTime(),
		}

		switch {
		case entry.IsDir():
			readDirectory(fs, childHostPath, child, problems)
		case entry.Mode().IsRegular():
			child.Data, err = afero.ReadFile(fs, childHostPath)
			if err != nil {
				*problems = multierror.Append(*problems, fmt.Errorf("%s: %w", childHostPath, err))
				continue
			}
		default:
			log.Warnf("skipping %s: not a regular file or directory (mode %s)", childHostPath, entry.Mode())
			continue
		}

		log.Debugf("read %s", child.Path)
		parent.Children = append(parent.Children, child)
	}
}
