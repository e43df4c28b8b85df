package directory

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prosefs/prosefs/internal/logger"
	"github.com/prosefs/prosefs/pkg/directory/index"
	"github.com/prosefs/prosefs/pkg/wire"
)

const viewTimeLayout = "2006-01-02 15:04"

// renderView builds the printable listing for VIEW and VIEWFOLDER.
//
// A root view lists top-level folders and files outside any folder; a folder
// view lists its immediate children. Without the all flag only files the
// caller can read appear. The long flag refreshes per-file statistics from
// the owning nodes first, batched by node.
func (s *Server) renderView(identity string, req wire.ViewRequest) string {
	folders := s.childFolders(req.Folder)
	files := s.childFiles(identity, req)

	if req.Flags&wire.ViewFlagLong != 0 {
		s.refreshStats(files)
		for i := range files {
			if rec, err := s.index.Find(files[i].Name); err == nil {
				files[i] = rec
			}
		}
		return renderLong(folders, files)
	}
	return renderShort(folders, files)
}

// childFolders returns the immediate subfolders of parent ("" for the root).
func (s *Server) childFolders(parent string) []index.Folder {
	var out []index.Folder
	for _, f := range s.index.Folders() {
		rel := f.Name
		if parent != "" {
			if !strings.HasPrefix(f.Name, parent+"/") {
				continue
			}
			rel = f.Name[len(parent)+1:]
		}
		if strings.Contains(rel, "/") {
			continue
		}
		f.Name = rel
		out = append(out, f)
	}
	return out
}

// childFiles returns the files directly inside req.Folder, filtered by the
// caller's read permission unless the all flag is set.
func (s *Server) childFiles(identity string, req wire.ViewRequest) []index.Record {
	var out []index.Record
	for _, rec := range s.index.All() {
		if rec.Folder != req.Folder {
			continue
		}
		if req.Flags&wire.ViewFlagAll == 0 {
			if ok, _ := s.index.Check(rec.Name, identity, wire.PermRead); !ok {
				continue
			}
		}
		out = append(out, rec)
	}
	return out
}

// refreshStats pulls fresh statistics for the listed files, one goroutine
// per owning node so a slow node only delays its own batch.
func (s *Server) refreshStats(files []index.Record) {
	byNode := make(map[int][]string)
	for _, rec := range files {
		byNode[rec.NodeIndex] = append(byNode[rec.NodeIndex], rec.Name)
	}

	var wg sync.WaitGroup
	for nodeIdx, names := range byNode {
		slot, ok := s.nodes.Get(nodeIdx)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(names []string) {
			defer wg.Done()
			for _, name := range names {
				req := wire.NewHeader(wire.MsgInternalGetMetadata, wire.ComponentDirectory, wire.ComponentNode, name)
				rep, err := slot.Do(req, nil)
				if err != nil {
					logger.Debug("Stats refresh for '%s' failed: %v", name, err)
					return
				}
				if rep.Header.Type != wire.MsgInternalMetadataResp {
					continue
				}
				var stats wire.MetadataStats
				if err := wire.DecodePayload(rep.Payload, &stats); err != nil {
					continue
				}
				s.index.UpdateStats(name, stats)
			}
		}(names)
	}
	wg.Wait()
}

func renderShort(folders []index.Folder, files []index.Record) string {
	if len(folders) == 0 && len(files) == 0 {
		return "No files found.\n"
	}
	var b strings.Builder
	for _, f := range folders {
		fmt.Fprintf(&b, "[D] %s\n", f.Name)
	}
	for _, rec := range files {
		fmt.Fprintf(&b, "--> %s\n", rec.Name)
	}
	return b.String()
}

func renderLong(folders []index.Folder, files []index.Record) string {
	if len(folders) == 0 && len(files) == 0 {
		return "No files found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "| T | %-20s | %5s | %7s | %-16s | %-12s |\n",
		"Name", "Words", "Chars", "Last Accessed", "Owner")
	for _, f := range folders {
		fmt.Fprintf(&b, "| D | %-20s | %5s | %7s | %-16s | %-12s |\n",
			f.Name, "-", "-", "-", f.Owner)
	}
	for _, rec := range files {
		accessed := "-"
		if rec.Stats.LastAccessed > 0 {
			accessed = time.Unix(rec.Stats.LastAccessed, 0).Format(viewTimeLayout)
		}
		fmt.Fprintf(&b, "| F | %-20s | %5d | %7d | %-16s | %-12s |\n",
			rec.Name, rec.Stats.WordCount, rec.Stats.CharCount, accessed, rec.Owner)
	}
	return b.String()
}
