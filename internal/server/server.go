package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/netbill/internal/audit"
	auditdomain "github.com/smallbiznis/netbill/internal/audit/domain"
	"github.com/smallbiznis/netbill/internal/billing"
	billingdomain "github.com/smallbiznis/netbill/internal/billing/domain"
	"github.com/smallbiznis/netbill/internal/company"
	companydomain "github.com/smallbiznis/netbill/internal/company/domain"
	"github.com/smallbiznis/netbill/internal/config"
	"github.com/smallbiznis/netbill/internal/customer"
	customerdomain "github.com/smallbiznis/netbill/internal/customer/domain"
	"github.com/smallbiznis/netbill/internal/invoice"
	invoicedomain "github.com/smallbiznis/netbill/internal/invoice/domain"
	"github.com/smallbiznis/netbill/internal/ledger"
	ledgerdomain "github.com/smallbiznis/netbill/internal/ledger/domain"
	"github.com/smallbiznis/netbill/internal/observability"
	obslogger "github.com/smallbiznis/netbill/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/netbill/internal/observability/metrics"
	obstracing "github.com/smallbiznis/netbill/internal/observability/tracing"
	"github.com/smallbiznis/netbill/internal/payment"
	paymentdomain "github.com/smallbiznis/netbill/internal/payment/domain"
	"github.com/smallbiznis/netbill/internal/plan"
	plandomain "github.com/smallbiznis/netbill/internal/plan/domain"
	"github.com/smallbiznis/netbill/internal/subscription"
	subscriptiondomain "github.com/smallbiznis/netbill/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	audit.Module,
	company.Module,
	customer.Module,
	plan.Module,
	subscription.Module,
	ledger.Module,
	invoice.Module,
	payment.Module,
	billing.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, log *zap.Logger, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(log))
	r.Use(obstracing.GinMiddleware(obsCfg.ServiceName))
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, log *zap.Logger, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, log, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	db              *gorm.DB
	genID           *snowflake.Node
	auditSvc        auditdomain.Service
	companySvc      companydomain.Service
	customerSvc     customerdomain.Service
	planSvc         plandomain.Service
	subscriptionSvc subscriptiondomain.Service
	ledgerSvc       ledgerdomain.Service
	invoiceSvc      invoicedomain.Service
	paymentSvc      paymentdomain.Service
	billingSvc      billingdomain.Service
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	DB              *gorm.DB
	GenID           *snowflake.Node
	AuditSvc        auditdomain.Service
	CompanySvc      companydomain.Service
	CustomerSvc     customerdomain.Service
	PlanSvc         plandomain.Service
	SubscriptionSvc subscriptiondomain.Service
	LedgerSvc       ledgerdomain.Service
	InvoiceSvc      invoicedomain.Service
	PaymentSvc      paymentdomain.Service
	BillingSvc      billingdomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		db:              p.DB,
		genID:           p.GenID,
		auditSvc:        p.AuditSvc,
		companySvc:      p.CompanySvc,
		customerSvc:     p.CustomerSvc,
		planSvc:         p.PlanSvc,
		subscriptionSvc: p.SubscriptionSvc,
		ledgerSvc:       p.LedgerSvc,
		invoiceSvc:      p.InvoiceSvc,
		paymentSvc:      p.PaymentSvc,
		billingSvc:      p.BillingSvc,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")
	api.Use(s.TenantContext())

	// -------- Companies --------
	api.GET("/companies", s.ListCompanies)
	api.POST("/companies", s.CreateCompany)
	api.GET("/companies/:id", s.GetCompanyByID)
	api.PATCH("/companies/:id", s.UpdateCompany)

	// -------- Customers --------
	api.GET("/customers", s.ListCustomers)
	api.POST("/customers", s.CreateCustomer)
	api.GET("/customers/:id", s.GetCustomerByID)
	api.PATCH("/customers/:id", s.UpdateCustomer)

	// -------- Plans --------
	api.GET("/plans", s.ListPlans)
	api.POST("/plans", s.CreatePlan)
	api.GET("/plans/:id", s.GetPlanByID)

	// -------- Subscriptions --------
	api.GET("/subscriptions/:id", s.GetSubscriptionByID)
	api.POST("/subscriptions", s.CreateSubscription)
	api.POST("/subscriptions/:id/invoice", s.CreateInitialInvoice)
	api.POST("/subscriptions/:id/renew", s.RenewSubscription)

	// -------- Balance & transactions --------
	api.GET("/customers/:id/balance", s.GetCustomerBalance)
	api.GET("/customers/:id/transactions", s.ListCustomerTransactions)
	api.GET("/customers/:id/subscriptions", s.ListCustomerSubscriptions)

	// -------- Billing operations --------
	api.POST("/customers/:id/bills", s.GenerateBill)
	api.POST("/customers/:id/charges", s.AddOnCharge)
	api.POST("/customers/:id/balance-adjustments", s.AdjustBalance)
	api.DELETE("/transactions/:id", s.DeleteTransaction)

	// -------- Invoices --------
	api.GET("/invoices", s.ListInvoices)
	api.GET("/invoices/:id", s.GetInvoiceByID)

	// -------- Payments --------
	api.POST("/customers/:id/payments", s.RecordPayment)
	api.GET("/payments", s.ListPayments)
	api.GET("/payments/:id", s.GetPaymentByID)
	api.DELETE("/payments/:id", s.DeletePayment)

	// -------- Audit --------
	api.GET("/audit-logs", s.ListAuditLogs)
}
