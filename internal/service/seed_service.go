package service

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"duoread-go/internal/model"
	"duoread-go/internal/repository"
	"duoread-go/pkg/log"
)

// SeedDemoDocuments 导入 dir 下所有支持的文件作为演示文档，已存在同名演示文档的跳过。
// 返回新导入的数量；单个文件失败不会中断其余文件。
func SeedDemoDocuments(ctx context.Context, ingestion IngestionService, docRepo repository.DocumentRepository, dir, ownerID string, allowed []string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	if ownerID == "" {
		ownerID = model.DemoOwnerID
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !hasAllowedExt(e.Name(), allowed) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	seeded := 0
	for _, name := range names {
		if ctx.Err() != nil {
			return seeded, ctx.Err()
		}
		title := strings.TrimSuffix(name, filepath.Ext(name))
		if _, err := docRepo.FindDemoByTitle(ctx, title); err == nil {
			log.Infof("[Seed] 演示文档已存在，跳过: %s", title)
			continue
		} else if !repository.IsNotFound(err) {
			log.Errorw("[Seed] 查询演示文档失败", "title", title, "error", err)
			continue
		}

		res, err := ingestion.SubmitFromPath(ctx, PathRequest{
			OwnerID: ownerID,
			Path:    filepath.Join(dir, name),
			Title:   title,
			IsDemo:  true,
		})
		if err != nil {
			log.Errorw("[Seed] 导入演示文档失败", "file", name, "error", err)
			continue
		}
		log.Infow("[Seed] 演示文档导入完成", "title", title, "documentID", res.DocumentID, "status", res.Status)
		seeded++
	}
	return seeded, nil
}

func hasAllowedExt(name string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	ext := filepath.Ext(name)
	for _, e := range allowed {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}
