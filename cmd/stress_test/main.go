package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

const (
	initialStock  = 20
	totalRequests = 50
)

type stockResponse struct {
	StockQty int `json:"stock_qty"`
}

// Fires concurrent single-unit sales at a running server and checks that
// exactly the available stock was sold.
func main() {
	baseURL := flag.String("url", "http://localhost:8080", "billing server base URL")
	flag.Parse()

	client := resty.New().
		SetBaseURL(*baseURL).
		SetTimeout(10*time.Second).
		SetHeader("X-User-ID", "stress-test")

	itemCode := "stress-" + uuid.NewString()[:8]

	resp, err := client.R().
		SetBody(map[string]any{
			"item_code":      itemCode,
			"item_name":      "Stress Item",
			"category":       "Stress",
			"stock_qty":      initialStock,
			"purchase_price": "10",
			"selling_price":  "15",
		}).
		Post("/api/inventory")
	if err != nil {
		log.Fatalf("failed to create item: %v", err)
	}
	if resp.StatusCode() != http.StatusCreated {
		log.Fatalf("failed to create item: %s", resp.String())
	}

	var successCount, stockoutCount, errorCount atomic.Int32

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			resp, err := client.R().
				SetBody(map[string]any{
					"requestId":     uuid.NewString(),
					"customerName":  fmt.Sprintf("customer-%d", n),
					"paymentMethod": "Cash",
					"billItems": []map[string]any{
						{"name": "Stress Item", "item_code": itemCode, "qty": 1, "price": "15"},
					},
				}).
				Post("/api/billing")

			switch {
			case err != nil:
				errorCount.Add(1)
			case resp.StatusCode() == http.StatusOK:
				successCount.Add(1)
			case resp.StatusCode() == http.StatusBadRequest:
				stockoutCount.Add(1)
			default:
				errorCount.Add(1)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	success, stockout, failed := successCount.Load(), stockoutCount.Load(), errorCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Item:             %s\n", itemCode)
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Out of stock:     %d\n", stockout)
	fmt.Printf("Errors:           %d\n", failed)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	if success == initialStock && stockout == totalRequests-initialStock {
		fmt.Printf("PASS: Exactly %d bills succeeded, %d refused\n", initialStock, totalRequests-initialStock)
	} else {
		fmt.Printf("FAIL: Expected %d success/%d refused, got %d/%d\n",
			initialStock, totalRequests-initialStock, success, stockout)
	}

	var stock stockResponse
	resp, err = client.R().SetResult(&stock).Get("/api/inventory/" + itemCode + "/stock")
	if err != nil {
		log.Fatalf("failed to read final stock: %v", err)
	}
	if resp.StatusCode() != http.StatusOK {
		log.Fatalf("failed to read final stock: %s", resp.String())
	}
	fmt.Printf("Final Stock: %d\n", stock.StockQty)

	if stock.StockQty == 0 {
		fmt.Println("PASS: Stock depleted to 0")
	} else {
		fmt.Printf("FAIL: Expected stock 0, got %d\n", stock.StockQty)
	}
}
