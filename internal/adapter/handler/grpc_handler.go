package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/bms360/billing-core/internal/core/domain"
)

const billingServiceName = "bms360.billing.v1.BillingService"

// JSONCodec carries the billing messages as JSON over gRPC.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (JSONCodec) Name() string                       { return "json" }

func init() {
	encoding.RegisterCodec(JSONCodec{})
}

type SaleItem struct {
	ItemCode string `json:"item_code"`
	Name     string `json:"name"`
	Qty      int32  `json:"qty"`
	Price    string `json:"price"`
}

type CreateSaleRequest struct {
	RequestID        string     `json:"request_id"`
	CustomerName     string     `json:"customer_name"`
	CustomerPhone    string     `json:"customer_phone"`
	CustomerAgeGroup string     `json:"customer_age_group"`
	PaymentMethod    string     `json:"payment_method"`
	Discount         string     `json:"discount"`
	Items            []SaleItem `json:"items"`
}

type CreateSaleResponse struct {
	BillID     int64  `json:"bill_id"`
	Reference  string `json:"reference"`
	GrandTotal string `json:"grand_total"`
}

type GetStockRequest struct {
	ItemCode string `json:"item_code"`
}

type GetStockResponse struct {
	ItemCode string `json:"item_code"`
	StockQty int64  `json:"stock_qty"`
}

// BillingServer is the gRPC surface of the billing core.
type BillingServer interface {
	CreateSale(context.Context, *CreateSaleRequest) (*CreateSaleResponse, error)
	GetStock(context.Context, *GetStockRequest) (*GetStockResponse, error)
}

var BillingServiceDesc = grpc.ServiceDesc{
	ServiceName: billingServiceName,
	HandlerType: (*BillingServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateSale", Handler: createSaleHandler},
		{MethodName: "GetStock", Handler: getStockHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "bms360/billing/v1/billing.proto",
}

func RegisterBillingServer(s grpc.ServiceRegistrar, srv BillingServer) {
	s.RegisterService(&BillingServiceDesc, srv)
}

func createSaleHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CreateSaleRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BillingServer).CreateSale(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + billingServiceName + "/CreateSale"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BillingServer).CreateSale(ctx, req.(*CreateSaleRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getStockHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetStockRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BillingServer).GetStock(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + billingServiceName + "/GetStock"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BillingServer).GetStock(ctx, req.(*GetStockRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// BillingClient calls a BillingServer over a connection dialed with the
// JSON codec forced.
type BillingClient struct {
	cc grpc.ClientConnInterface
}

func NewBillingClient(cc grpc.ClientConnInterface) *BillingClient {
	return &BillingClient{cc: cc}
}

func (c *BillingClient) CreateSale(ctx context.Context, in *CreateSaleRequest, opts ...grpc.CallOption) (*CreateSaleResponse, error) {
	out := new(CreateSaleResponse)
	opts = append([]grpc.CallOption{grpc.ForceCodec(JSONCodec{})}, opts...)
	if err := c.cc.Invoke(ctx, "/"+billingServiceName+"/CreateSale", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BillingClient) GetStock(ctx context.Context, in *GetStockRequest, opts ...grpc.CallOption) (*GetStockResponse, error) {
	out := new(GetStockResponse)
	opts = append([]grpc.CallOption{grpc.ForceCodec(JSONCodec{})}, opts...)
	if err := c.cc.Invoke(ctx, "/"+billingServiceName+"/GetStock", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

type GRPCHandler struct {
	sales     SaleUseCase
	inventory InventoryUseCase
	logger    *zap.Logger
}

func NewGRPCHandler(sales SaleUseCase, inventory InventoryUseCase, logger *zap.Logger) *GRPCHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GRPCHandler{sales: sales, inventory: inventory, logger: logger}
}

// actorFromMetadata lifts the caller headers forwarded by the session layer.
func actorFromMetadata(ctx context.Context) context.Context {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx
	}
	actor := domain.Actor{}
	if v := md.Get("x-user-id"); len(v) > 0 {
		actor.UserID = v[0]
	}
	if v := md.Get("x-user-department"); len(v) > 0 {
		actor.Department = v[0]
	}
	if actor.UserID == "" {
		return ctx
	}
	return domain.ContextWithActor(ctx, actor)
}

func (h *GRPCHandler) CreateSale(ctx context.Context, req *CreateSaleRequest) (*CreateSaleResponse, error) {
	ctx = actorFromMetadata(ctx)

	sale := domain.SaleRequest{
		RequestID:        req.RequestID,
		CustomerName:     req.CustomerName,
		CustomerPhone:    req.CustomerPhone,
		CustomerAgeGroup: req.CustomerAgeGroup,
		PaymentMethod:    req.PaymentMethod,
		Items:            make([]domain.SaleLine, len(req.Items)),
	}
	if a, ok := domain.ActorOf(ctx); ok {
		sale.CreatedBy = a.UserID
	}
	verr := &domain.ValidationError{}
	if req.Discount != "" {
		d, err := decimal.NewFromString(req.Discount)
		if err != nil {
			verr.AddHeader("discount", fmt.Sprintf("invalid number %q", req.Discount))
		} else {
			sale.Discount = &d
		}
	}
	for i, item := range req.Items {
		price, err := decimal.NewFromString(item.Price)
		if err != nil {
			verr.AddLine(i+1, item.ItemCode, "price", fmt.Sprintf("invalid number %q", item.Price))
		}
		sale.Items[i] = domain.SaleLine{
			ItemCode:  item.ItemCode,
			Name:      item.Name,
			UnitPrice: price,
			Quantity:  int(item.Qty),
		}
	}
	if err := verr.Err(); err != nil {
		return nil, h.toStatus(err)
	}

	bill, err := h.sales.CreateSale(ctx, sale)
	if err != nil {
		return nil, h.toStatus(err)
	}
	return &CreateSaleResponse{
		BillID:     bill.ID,
		Reference:  bill.Reference,
		GrandTotal: bill.GrandTotal.StringFixed(2),
	}, nil
}

func (h *GRPCHandler) GetStock(ctx context.Context, req *GetStockRequest) (*GetStockResponse, error) {
	qty, err := h.inventory.StockOf(ctx, req.ItemCode)
	if err != nil {
		return nil, h.toStatus(err)
	}
	return &GetStockResponse{ItemCode: req.ItemCode, StockQty: int64(qty)}, nil
}

func (h *GRPCHandler) toStatus(err error) error {
	var (
		verr     *domain.ValidationError
		stockErr *domain.StockError
		perr     *domain.PersistenceError
	)
	switch {
	case errors.As(err, &verr):
		return status.Error(codes.InvalidArgument, verr.Error())
	case errors.As(err, &stockErr):
		return status.Error(codes.FailedPrecondition, stockErr.Error())
	case errors.Is(err, domain.ErrDuplicateRequest):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.As(err, &perr):
		h.logger.Error("grpc sale failed", zap.String("stage", perr.Stage), zap.Error(err))
		return status.Error(codes.Unavailable, "failed to save bill, try again")
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrBillNotFound):
		return status.Error(codes.NotFound, err.Error())
	default:
		h.logger.Error("grpc request failed", zap.Error(err))
		return status.Error(codes.Internal, "internal error")
	}
}
