package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"juninpagos/backend/internal/auth"
	"juninpagos/backend/internal/config"
	"juninpagos/backend/internal/domain"
	"juninpagos/backend/internal/logger"
	"juninpagos/backend/internal/service"
	"juninpagos/backend/internal/storage/postgres"
)

func main() {
	email := flag.String("email", "", "后台用户邮箱")
	password := flag.String("password", "", "密码（8-72 字节）")
	name := flag.String("name", "", "显示名称")
	roleStr := flag.String("role", "admin", "角色: admin 或 agent")
	account := flag.String("account", "", "可选：授权的收件邮箱，例如 info@juninpagos.com")
	accountName := flag.String("account-name", "", "收件邮箱显示名称")
	owner := flag.Bool("owner", false, "是否为该邮箱的所有者")
	flag.Parse()

	if *email == "" || *password == "" {
		fmt.Println("Usage: create-admin -email=<email> -password=<password> [-name=<name>] [-role=admin|agent] [-account=<mailbox> [-owner]]")
		os.Exit(1)
	}

	var role domain.AdminRole
	switch *roleStr {
	case "admin":
		role = domain.RoleAdmin
	case "agent":
		role = domain.RoleAgent
	default:
		fmt.Printf("Invalid role %q\n", *roleStr)
		os.Exit(1)
	}

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Database.Driver == "" {
		fmt.Println("JUNIN_DATABASE_DRIVER is not set; users created in memory storage would be lost")
		os.Exit(1)
	}

	log := logger.NewDevelopmentLogger()
	defer func() { _ = log.Sync() }()

	store, err := postgres.Open(cfg.Database)
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	authService := auth.NewService(store, nil, log)
	user, err := authService.CreateUser(ctx, *email, *name, *password, role)
	if err != nil {
		fmt.Printf("Failed to create user: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ Admin user created successfully!\n")
	fmt.Printf("  ID:    %s\n", user.ID)
	fmt.Printf("  Email: %s\n", user.Email)
	fmt.Printf("  Name:  %s\n", user.Name)
	fmt.Printf("  Role:  %s\n", user.Role)

	if *account == "" {
		return
	}

	accounts := service.NewAccountService(store)
	mailbox, err := accounts.EnsureAccount(ctx, *account, *accountName, domain.AccountShared)
	if err != nil {
		fmt.Printf("Failed to create mailbox %s: %v\n", *account, err)
		os.Exit(1)
	}
	if err := accounts.Grant(ctx, mailbox.ID, user.ID, *owner); err != nil {
		fmt.Printf("Failed to grant mailbox %s: %v\n", mailbox.Email, err)
		os.Exit(1)
	}
	fmt.Printf("✓ Granted %s (owner=%t)\n", mailbox.Email, *owner)
}
