package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// Store — in-memory хранилище каталога, продаж и outbox для локальной разработки и тестов.
//
// Единица работы выполняется под глобальной блокировкой записи над копией состояния;
// копия заменяет состояние только при успешном завершении.
type Store struct {
	mu sync.RWMutex
	st *state
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{st: newState()}
}

// RunAtomically выполняет fn в единице работы.
func (s *Store) RunAtomically(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.st.clone()
	if err := fn(ctx, txView{sc: scope{st: working}}); err != nil {
		return err
	}
	s.st = working
	return nil
}

// Products возвращает хранилище товаров вне единицы работы.
func (s *Store) Products() domain.ProductStore { return productRepo{sc: scope{store: s}} }

// Categories возвращает хранилище категорий.
func (s *Store) Categories() domain.CategoryStore { return categoryRepo{sc: scope{store: s}} }

// Sales возвращает хранилище продаж вне единицы работы.
func (s *Store) Sales() domain.SaleStore { return saleRepo{sc: scope{store: s}} }

// Outbox возвращает outbox вне единицы работы (используется воркером публикации).
func (s *Store) Outbox() domain.OutboxRepository { return outboxRepo{sc: scope{store: s}} }

// txView — хранилища поверх рабочей копии состояния.
type txView struct {
	sc scope
}

func (t txView) Products() domain.ProductStore   { return productRepo{sc: t.sc} }
func (t txView) Sales() domain.SaleStore         { return saleRepo{sc: t.sc} }
func (t txView) Outbox() domain.OutboxRepository { return outboxRepo{sc: t.sc} }

// scope выбирает состояние: рабочую копию внутри единицы работы или общее состояние под мьютексом.
type scope struct {
	store *Store
	st    *state
}

func (sc scope) read(fn func(st *state) error) error {
	if sc.st != nil {
		return fn(sc.st)
	}
	sc.store.mu.RLock()
	defer sc.store.mu.RUnlock()
	return fn(sc.store.st)
}

// write применяет fn к общему состоянию на месте: каждая операция сначала проверяет условия и только затем меняет данные.
func (sc scope) write(fn func(st *state) error) error {
	if sc.st != nil {
		return fn(sc.st)
	}
	sc.store.mu.Lock()
	defer sc.store.mu.Unlock()
	return fn(sc.store.st)
}

type state struct {
	products   map[int64]domain.Product
	categories map[int64]domain.Category
	sales      map[int64]domain.Sale
	lines      map[int64][]domain.SaleLine
	outbox     map[string]outboxRecord

	productSeq  int64
	categorySeq int64
	saleSeq     int64
	lineSeq     int64
	outboxSeq   int64
}

func newState() *state {
	return &state{
		products:   make(map[int64]domain.Product),
		categories: make(map[int64]domain.Category),
		sales:      make(map[int64]domain.Sale),
		lines:      make(map[int64][]domain.SaleLine),
		outbox:     make(map[string]outboxRecord),
	}
}

func (st *state) clone() *state {
	dst := &state{
		products:    make(map[int64]domain.Product, len(st.products)),
		categories:  make(map[int64]domain.Category, len(st.categories)),
		sales:       make(map[int64]domain.Sale, len(st.sales)),
		lines:       make(map[int64][]domain.SaleLine, len(st.lines)),
		outbox:      make(map[string]outboxRecord, len(st.outbox)),
		productSeq:  st.productSeq,
		categorySeq: st.categorySeq,
		saleSeq:     st.saleSeq,
		lineSeq:     st.lineSeq,
		outboxSeq:   st.outboxSeq,
	}
	for id, p := range st.products {
		dst.products[id] = cloneProduct(p)
	}
	for id, c := range st.categories {
		dst.categories[id] = c
	}
	for id, sale := range st.sales {
		dst.sales[id] = sale
	}
	for id, lines := range st.lines {
		dst.lines[id] = append([]domain.SaleLine(nil), lines...)
	}
	for id, rec := range st.outbox {
		rec.msg.Payload = append([]byte(nil), rec.msg.Payload...)
		dst.outbox[id] = rec
	}
	return dst
}

func cloneProduct(p domain.Product) domain.Product {
	if p.CategoryID != nil {
		id := *p.CategoryID
		p.CategoryID = &id
	}
	if p.Barcode != nil {
		code := *p.Barcode
		p.Barcode = &code
	}
	return p
}

// productView дополняет товар именем категории.
func (st *state) productView(p domain.Product) domain.Product {
	p = cloneProduct(p)
	p.CategoryName = ""
	if p.CategoryID != nil {
		if c, ok := st.categories[*p.CategoryID]; ok {
			p.CategoryName = c.Name
		}
	}
	return p
}

// saleView возвращает продажу с позициями; имя товара берётся из каталога на момент чтения.
func (st *state) saleView(sale domain.Sale) domain.Sale {
	sale.Lines = st.lineViews(sale.ID)
	return sale
}

func (st *state) lineViews(saleID int64) []domain.SaleLine {
	lines := make([]domain.SaleLine, 0, len(st.lines[saleID]))
	for _, line := range st.lines[saleID] {
		if p, ok := st.products[line.ProductID]; ok {
			line.ProductName = p.Name
		}
		lines = append(lines, line)
	}
	return lines
}

func (st *state) barcodeTaken(barcode *string, exceptID int64) bool {
	if barcode == nil {
		return false
	}
	for id, p := range st.products {
		if id != exceptID && p.Barcode != nil && *p.Barcode == *barcode {
			return true
		}
	}
	return false
}

func (st *state) categoryNameTaken(name string, exceptID int64) bool {
	for id, c := range st.categories {
		if id != exceptID && strings.EqualFold(c.Name, name) {
			return true
		}
	}
	return false
}

func (st *state) productReferenced(productID int64) bool {
	for _, lines := range st.lines {
		for _, line := range lines {
			if line.ProductID == productID {
				return true
			}
		}
	}
	return false
}

func (st *state) checkCategory(categoryID *int64) error {
	if categoryID == nil {
		return nil
	}
	if _, ok := st.categories[*categoryID]; !ok {
		return domain.NewNotFound(domain.EntityCategory, *categoryID)
	}
	return nil
}

func now() time.Time { return time.Now().UTC() }

// productRepo реализует domain.ProductStore.
type productRepo struct {
	sc scope
}

func (r productRepo) GetByID(_ context.Context, id int64) (domain.Product, error) {
	var out domain.Product
	err := r.sc.read(func(st *state) error {
		p, ok := st.products[id]
		if !ok {
			return domain.NewNotFound(domain.EntityProduct, id)
		}
		out = st.productView(p)
		return nil
	})
	return out, err
}

// GetForUpdate совпадает с GetByID: единица работы уже держит глобальную блокировку.
func (r productRepo) GetForUpdate(ctx context.Context, id int64) (domain.Product, error) {
	return r.GetByID(ctx, id)
}

func (r productRepo) GetByBarcode(_ context.Context, barcode string) (domain.Product, error) {
	var out domain.Product
	err := r.sc.read(func(st *state) error {
		for _, p := range st.products {
			if p.Barcode != nil && *p.Barcode == barcode {
				out = st.productView(p)
				return nil
			}
		}
		return &domain.NotFoundError{Entity: domain.EntityProduct, Field: "barcode", Key: barcode}
	})
	return out, err
}

func (r productRepo) Exists(_ context.Context, id int64) (bool, error) {
	var ok bool
	err := r.sc.read(func(st *state) error {
		_, ok = st.products[id]
		return nil
	})
	return ok, err
}

func (r productRepo) AdjustStock(_ context.Context, id int64, delta int) (domain.Product, error) {
	var out domain.Product
	err := r.sc.write(func(st *state) error {
		p, ok := st.products[id]
		if !ok {
			return domain.NewNotFound(domain.EntityProduct, id)
		}
		next := p.StockQuantity + delta
		if next < 0 {
			return &domain.InvalidOperationError{Reason: "stock quantity cannot be negative"}
		}
		p.StockQuantity = next
		p.UpdatedAt = now()
		st.products[id] = p
		out = st.productView(p)
		return nil
	})
	return out, err
}

func (r productRepo) List(_ context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	var out []domain.Product
	err := r.sc.read(func(st *state) error {
		needle := strings.ToLower(strings.TrimSpace(filter.NameContains))
		out = make([]domain.Product, 0, len(st.products))
		for _, p := range st.products {
			if needle != "" && !strings.Contains(strings.ToLower(p.Name), needle) {
				continue
			}
			if filter.CategoryID != nil && (p.CategoryID == nil || *p.CategoryID != *filter.CategoryID) {
				continue
			}
			if filter.MaxStock != nil && p.StockQuantity > *filter.MaxStock {
				continue
			}
			out = append(out, st.productView(p))
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return nil
	})
	return out, err
}

func (r productRepo) Create(_ context.Context, product domain.Product) (domain.Product, error) {
	var out domain.Product
	err := r.sc.write(func(st *state) error {
		if st.barcodeTaken(product.Barcode, 0) {
			return domain.ErrConflict
		}
		if err := st.checkCategory(product.CategoryID); err != nil {
			return err
		}
		st.productSeq++
		product.ID = st.productSeq
		ts := now()
		product.CreatedAt, product.UpdatedAt = ts, ts
		product.CategoryName = ""
		st.products[product.ID] = cloneProduct(product)
		out = st.productView(product)
		return nil
	})
	return out, err
}

func (r productRepo) Update(_ context.Context, product domain.Product) (domain.Product, error) {
	var out domain.Product
	err := r.sc.write(func(st *state) error {
		current, ok := st.products[product.ID]
		if !ok {
			return domain.NewNotFound(domain.EntityProduct, product.ID)
		}
		if st.barcodeTaken(product.Barcode, product.ID) {
			return domain.ErrConflict
		}
		if err := st.checkCategory(product.CategoryID); err != nil {
			return err
		}
		product.CreatedAt = current.CreatedAt
		product.UpdatedAt = now()
		product.CategoryName = ""
		st.products[product.ID] = cloneProduct(product)
		out = st.productView(product)
		return nil
	})
	return out, err
}

func (r productRepo) Delete(_ context.Context, id int64) error {
	return r.sc.write(func(st *state) error {
		if _, ok := st.products[id]; !ok {
			return domain.NewNotFound(domain.EntityProduct, id)
		}
		if st.productReferenced(id) {
			return domain.ErrProductInUse
		}
		delete(st.products, id)
		return nil
	})
}

// categoryRepo реализует domain.CategoryStore.
type categoryRepo struct {
	sc scope
}

func (r categoryRepo) GetByID(_ context.Context, id int64) (domain.Category, error) {
	var out domain.Category
	err := r.sc.read(func(st *state) error {
		c, ok := st.categories[id]
		if !ok {
			return domain.NewNotFound(domain.EntityCategory, id)
		}
		out = c
		return nil
	})
	return out, err
}

func (r categoryRepo) List(_ context.Context) ([]domain.Category, error) {
	var out []domain.Category
	err := r.sc.read(func(st *state) error {
		out = make([]domain.Category, 0, len(st.categories))
		for _, c := range st.categories {
			out = append(out, c)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return nil
	})
	return out, err
}

func (r categoryRepo) Create(_ context.Context, category domain.Category) (domain.Category, error) {
	err := r.sc.write(func(st *state) error {
		if st.categoryNameTaken(category.Name, 0) {
			return domain.ErrConflict
		}
		st.categorySeq++
		category.ID = st.categorySeq
		ts := now()
		category.CreatedAt, category.UpdatedAt = ts, ts
		st.categories[category.ID] = category
		return nil
	})
	return category, err
}

func (r categoryRepo) Update(_ context.Context, category domain.Category) (domain.Category, error) {
	err := r.sc.write(func(st *state) error {
		current, ok := st.categories[category.ID]
		if !ok {
			return domain.NewNotFound(domain.EntityCategory, category.ID)
		}
		if st.categoryNameTaken(category.Name, category.ID) {
			return domain.ErrConflict
		}
		category.CreatedAt = current.CreatedAt
		category.UpdatedAt = now()
		st.categories[category.ID] = category
		return nil
	})
	return category, err
}

func (r categoryRepo) Delete(_ context.Context, id int64) error {
	return r.sc.write(func(st *state) error {
		if _, ok := st.categories[id]; !ok {
			return domain.NewNotFound(domain.EntityCategory, id)
		}
		delete(st.categories, id)
		for pid, p := range st.products {
			if p.CategoryID != nil && *p.CategoryID == id {
				p.CategoryID = nil
				st.products[pid] = p
			}
		}
		return nil
	})
}

// saleRepo реализует domain.SaleStore.
type saleRepo struct {
	sc scope
}

func (r saleRepo) Create(_ context.Context, sale domain.Sale) (domain.Sale, error) {
	err := r.sc.write(func(st *state) error {
		st.saleSeq++
		sale.ID = st.saleSeq
		ts := now()
		if sale.CreatedAt.IsZero() {
			sale.CreatedAt = ts
		}
		sale.UpdatedAt = ts
		sale.Lines = nil
		st.sales[sale.ID] = sale
		return nil
	})
	return sale, err
}

func (r saleRepo) AddLine(_ context.Context, saleID int64, line domain.SaleLine) (domain.SaleLine, error) {
	err := r.sc.write(func(st *state) error {
		if _, ok := st.sales[saleID]; !ok {
			return domain.NewNotFound(domain.EntitySale, saleID)
		}
		if _, ok := st.products[line.ProductID]; !ok {
			return domain.NewNotFound(domain.EntityProduct, line.ProductID)
		}
		st.lineSeq++
		line.ID = st.lineSeq
		line.SaleID = saleID
		st.lines[saleID] = append(st.lines[saleID], line)
		return nil
	})
	return line, err
}

func (r saleRepo) GetByID(_ context.Context, id int64) (domain.Sale, error) {
	var out domain.Sale
	err := r.sc.read(func(st *state) error {
		sale, ok := st.sales[id]
		if !ok {
			return domain.NewNotFound(domain.EntitySale, id)
		}
		out = st.saleView(sale)
		return nil
	})
	return out, err
}

func (r saleRepo) GetForUpdate(_ context.Context, id int64) (domain.Sale, error) {
	var out domain.Sale
	err := r.sc.read(func(st *state) error {
		sale, ok := st.sales[id]
		if !ok {
			return domain.NewNotFound(domain.EntitySale, id)
		}
		out = sale
		return nil
	})
	return out, err
}

func (r saleRepo) Lines(_ context.Context, saleID int64) ([]domain.SaleLine, error) {
	var out []domain.SaleLine
	err := r.sc.read(func(st *state) error {
		out = st.lineViews(saleID)
		return nil
	})
	return out, err
}

func (r saleRepo) UpdateHeader(_ context.Context, sale domain.Sale) (domain.Sale, error) {
	var out domain.Sale
	err := r.sc.write(func(st *state) error {
		current, ok := st.sales[sale.ID]
		if !ok {
			return domain.NewNotFound(domain.EntitySale, sale.ID)
		}
		current.CustomerName = sale.CustomerName
		current.TotalAmount = sale.TotalAmount
		current.PaymentMethod = sale.PaymentMethod
		current.Status = sale.Status
		current.UpdatedAt = now()
		st.sales[sale.ID] = current
		out = current
		return nil
	})
	return out, err
}

func (r saleRepo) List(_ context.Context, filter domain.SaleFilter) (domain.SalePage, error) {
	var page domain.SalePage
	err := r.sc.read(func(st *state) error {
		needle := strings.ToLower(strings.TrimSpace(filter.CustomerContains))
		matched := make([]domain.Sale, 0, len(st.sales))
		for _, sale := range st.sales {
			if needle != "" && !strings.Contains(strings.ToLower(sale.CustomerName), needle) {
				continue
			}
			if filter.From != nil && sale.CreatedAt.Before(*filter.From) {
				continue
			}
			if filter.To != nil && sale.CreatedAt.After(*filter.To) {
				continue
			}
			if filter.PaymentMethod != "" && sale.PaymentMethod != filter.PaymentMethod {
				continue
			}
			if filter.Status != "" && sale.Status != filter.Status {
				continue
			}
			matched = append(matched, sale)
		}

		sort.Slice(matched, func(i, j int) bool {
			if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
				return matched[i].CreatedAt.After(matched[j].CreatedAt)
			}
			return matched[i].ID > matched[j].ID
		})

		page.Total = len(matched)
		if filter.Offset > 0 {
			if filter.Offset >= len(matched) {
				matched = nil
			} else {
				matched = matched[filter.Offset:]
			}
		}
		if filter.Limit > 0 && len(matched) > filter.Limit {
			matched = matched[:filter.Limit]
		}

		page.Sales = make([]domain.Sale, 0, len(matched))
		for _, sale := range matched {
			page.Sales = append(page.Sales, st.saleView(sale))
		}
		return nil
	})
	return page, err
}

var (
	_ domain.UnitOfWork    = (*Store)(nil)
	_ domain.Tx            = (*Store)(nil)
	_ domain.ProductStore  = productRepo{}
	_ domain.CategoryStore = categoryRepo{}
	_ domain.SaleStore     = saleRepo{}
)
