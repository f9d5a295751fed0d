package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"github.com/RileyJaeke/microcenter-scraper/internal/classifier"
	"github.com/RileyJaeke/microcenter-scraper/internal/model"
)

// mysqlErrDataTooLong MySQL 1406: Data too long for column。
const mysqlErrDataTooLong = 1406

// ErrGpuUnresolved 表示 GPU 行在截断重试后仍然无法写入。
//
// 调用方应跳过该条目并继续处理同页的其余条目。
var ErrGpuUnresolved = errors.New("gpu row could not be created")

// Item 是一个已完成分类、准备入库的商品观测。
type Item struct {
	FullName     string
	Brand        string
	Manufacturer string
	ModelName    string
	SKU          string
	Price        float64
	StockStatus  string
	ProductURL   string
	ImageURL     string
}

// Reconciler 负责把抓取到的条目幂等地落到规范化的数据模型上。
//
// 门店、GPU、商品行按自然键 get-or-create；价格观测只追加。
type Reconciler struct {
	db     *gorm.DB
	logger *slog.Logger

	// insertGpuFn 默认为 insertGpu，测试用它注入列宽冲突等写入失败
	insertGpuFn func(tx *gorm.DB, item Item, modelName string) gpuInsertOutcome
}

func NewReconciler(db *gorm.DB, logger *slog.Logger) *Reconciler {
	r := &Reconciler{db: db, logger: logger}
	r.insertGpuFn = r.insertGpu
	return r
}

// ResolveStore 按 (name, city) 查找门店，不存在时创建。
//
// 在独立的事务中执行：门店行先于整页抓取提交，页面失败不回滚门店。
func (r *Reconciler) ResolveStore(ctx context.Context, name, city, state string) (uint, error) {
	var storeID uint
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var store model.Store
		err := tx.Where("name = ? AND city = ?", name, city).First(&store).Error
		if err == nil {
			storeID = store.ID
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("lookup store: %w", err)
		}

		store = model.Store{Name: name, City: city, State: state}
		if err := tx.Create(&store).Error; err != nil {
			return fmt.Errorf("create store: %w", err)
		}
		r.logger.Info("created new store", slog.String("name", name), slog.String("city", city))
		storeID = store.ID
		return nil
	})
	return storeID, err
}

// IngestPage 把一页已分类的条目写入数据库，整页一个事务。
//
// 单个条目的 GPU 无法落库时跳过该条目，其余条目继续；其它任何错误
// 回滚整页。返回成功记录的观测数。
func (r *Reconciler) IngestPage(ctx context.Context, storeID uint, items []Item) (int, error) {
	recorded := 0
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, item := range items {
			gpuID, err := r.resolveGpu(tx, item)
			if err != nil {
				if errors.Is(err, ErrGpuUnresolved) {
					r.logger.Warn("skipping item, gpu unresolved",
						slog.String("full_name", item.FullName),
						slog.String("sku", item.SKU),
					)
					continue
				}
				return err
			}

			productID, err := r.resolveProduct(tx, storeID, gpuID, item)
			if err != nil {
				return err
			}

			obs := model.PriceObservation{
				ProductID:   productID,
				Price:       item.Price,
				StockStatus: item.StockStatus,
			}
			if err := tx.Create(&obs).Error; err != nil {
				return fmt.Errorf("record observation for sku %s: %w", item.SKU, err)
			}
			recorded++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return recorded, nil
}

// resolveGpu 按 full_name 查找 GPU 行，不存在时创建。
//
// 已存在的行按 "不回退" 规则有条件更新：型号永远取新解析结果，品牌和
// 芯片厂商只有在新值不是 "Unknown" 时才覆盖。插入撞到 model_name 列宽
// 限制时截断重试一次，仍失败则返回 ErrGpuUnresolved。
func (r *Reconciler) resolveGpu(tx *gorm.DB, item Item) (uint, error) {
	var gpu model.GPU
	err := tx.Where("full_name = ?", item.FullName).First(&gpu).Error
	if err == nil {
		return gpu.ID, r.updateGpuIfBetter(tx, &gpu, item)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, fmt.Errorf("lookup gpu: %w", err)
	}

	outcome := r.insertGpuFn(tx, item, item.ModelName)
	if outcome.retryTruncated {
		r.logger.Warn("retrying gpu insert with truncated model name",
			slog.String("full_name", item.FullName))
		outcome = r.insertGpuFn(tx, item, classifier.Truncate(item.ModelName))
	}
	if outcome.err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrGpuUnresolved, item.FullName, outcome.err)
	}
	r.logger.Info("created new gpu", slog.String("full_name", item.FullName))
	return outcome.id, nil
}

// gpuInsertOutcome 单次 GPU 插入尝试的结果。
//
// retryTruncated 表示插入撞到了列宽限制，值得用截断后的型号再试一次。
type gpuInsertOutcome struct {
	id             uint
	err            error
	retryTruncated bool
}

func (r *Reconciler) insertGpu(tx *gorm.DB, item Item, modelName string) gpuInsertOutcome {
	gpu := model.GPU{
		Brand:        item.Brand,
		Manufacturer: item.Manufacturer,
		ModelName:    modelName,
		FullName:     item.FullName,
	}
	err := tx.Create(&gpu).Error
	if err == nil {
		return gpuInsertOutcome{id: gpu.ID}
	}

	if isDataTooLong(err) {
		return gpuInsertOutcome{err: err, retryTruncated: true}
	}
	return gpuInsertOutcome{err: err}
}

// isDataTooLong 判断是否为 MySQL 1406 列宽超限错误。
func isDataTooLong(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlErrDataTooLong
}

// updateGpuIfBetter 对已存在的 GPU 行应用有条件更新。
//
// 更新条件与写入值遵循同一条规则：新的 "Unknown" 永远不覆盖已知的
// 品牌或芯片厂商。三个字段在一条 UPDATE 里落库。
func (r *Reconciler) updateGpuIfBetter(tx *gorm.DB, gpu *model.GPU, item Item) error {
	brand := gpu.Brand
	if item.Brand != "Unknown" {
		brand = item.Brand
	}
	manufacturer := gpu.Manufacturer
	if item.Manufacturer != "Unknown" {
		manufacturer = item.Manufacturer
	}
	modelName := item.ModelName

	if brand == gpu.Brand && manufacturer == gpu.Manufacturer && modelName == gpu.ModelName {
		return nil
	}

	err := tx.Model(gpu).Updates(map[string]any{
		"brand":        brand,
		"manufacturer": manufacturer,
		"model_name":   modelName,
	}).Error
	if err != nil {
		return fmt.Errorf("update gpu %s: %w", item.FullName, err)
	}
	return nil
}

// resolveProduct 按 (sku, store_id) 查找商品行，不存在时创建。
//
// 已存在的行无条件刷新链接与图片（最新一次抓取为准），与 GPU 的
// 关联保持首次创建时的值不变。
func (r *Reconciler) resolveProduct(tx *gorm.DB, storeID, gpuID uint, item Item) (uint, error) {
	var product model.Product
	err := tx.Where("sku = ? AND store_id = ?", item.SKU, storeID).First(&product).Error
	if err == nil {
		err = tx.Model(&product).Updates(map[string]any{
			"product_url":         item.ProductURL,
			"last_seen_image_url": item.ImageURL,
		}).Error
		if err != nil {
			return 0, fmt.Errorf("refresh product %s: %w", item.SKU, err)
		}
		return product.ID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, fmt.Errorf("lookup product: %w", err)
	}

	product = model.Product{
		StoreID:          storeID,
		GpuID:            gpuID,
		SKU:              item.SKU,
		ProductURL:       item.ProductURL,
		LastSeenImageURL: item.ImageURL,
	}
	if err := tx.Create(&product).Error; err != nil {
		return 0, fmt.Errorf("create product %s: %w", item.SKU, err)
	}
	r.logger.Info("created new product",
		slog.String("sku", item.SKU), slog.Uint64("store_id", uint64(storeID)))
	return product.ID, nil
}
