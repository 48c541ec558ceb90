package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"github.com/foxzi/gratulo/internal/config"
	"github.com/foxzi/gratulo/internal/db"
	"github.com/foxzi/gratulo/internal/email"
	"github.com/foxzi/gratulo/internal/models"
	"github.com/foxzi/gratulo/internal/repository"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Admin account management",
}

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an admin account",
	RunE:  runUserCreate,
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List admin accounts",
	RunE:  runUserList,
}

var userDeleteCmd = &cobra.Command{
	Use:   "delete <email>",
	Short: "Delete an admin account",
	Args:  cobra.ExactArgs(1),
	RunE:  runUserDelete,
}

var userResetPasswordCmd = &cobra.Command{
	Use:   "reset-password <email>",
	Short: "Set a new password for an account",
	Args:  cobra.ExactArgs(1),
	RunE:  runUserResetPassword,
}

var (
	userEmail    string
	userPassword string
	userName     string
)

func init() {
	userCreateCmd.Flags().StringVar(&userEmail, "email", "", "Account email")
	userCreateCmd.Flags().StringVar(&userPassword, "password", "", "Password (prompted when omitted)")
	userCreateCmd.Flags().StringVar(&userName, "name", "", "Display name")
	userCreateCmd.MarkFlagRequired("email")

	userCmd.AddCommand(userCreateCmd)
	userCmd.AddCommand(userListCmd)
	userCmd.AddCommand(userDeleteCmd)
	userCmd.AddCommand(userResetPasswordCmd)
}

// openUsers opens the database and returns the user repository with a
// close func for the underlying handle.
func openUsers() (*repository.UserRepository, func() error, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return nil, nil, err
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, nil, err
	}
	return repository.NewUserRepository(database.DB), database.Close, nil
}

func runUserCreate(cmd *cobra.Command, args []string) error {
	users, closeDB, err := openUsers()
	if err != nil {
		return err
	}
	defer closeDB()

	addr := email.Normalize(userEmail)
	if err := email.Validate(addr); err != nil {
		return err
	}
	if existing, err := users.GetByEmail(addr); err != nil {
		return err
	} else if existing != nil {
		return fmt.Errorf("user %s already exists", addr)
	}

	password := userPassword
	if password == "" {
		password, err = promptPassword()
		if err != nil {
			return err
		}
	}
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Email:        addr,
		Name:         strings.TrimSpace(userName),
		PasswordHash: string(hash),
	}
	if err := users.Create(user); err != nil {
		return err
	}

	fmt.Printf("User %s created\n", addr)
	return nil
}

func runUserList(cmd *cobra.Command, args []string) error {
	users, closeDB, err := openUsers()
	if err != nil {
		return err
	}
	defer closeDB()

	list, err := users.List()
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("No users")
		return nil
	}

	fmt.Printf("%-36s  %-30s  %-20s  %s\n", "ID", "Email", "Name", "Created")
	fmt.Println(strings.Repeat("-", 100))
	for _, u := range list {
		fmt.Printf("%-36s  %-30s  %-20s  %s\n",
			u.ID, u.Email, u.Name, u.CreatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func runUserDelete(cmd *cobra.Command, args []string) error {
	addr := email.Normalize(args[0])

	users, closeDB, err := openUsers()
	if err != nil {
		return err
	}
	defer closeDB()

	user, err := users.GetByEmail(addr)
	if err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("user %s not found", addr)
	}

	fmt.Printf("Delete user %s? [y/N]: ", addr)
	reader := bufio.NewReader(os.Stdin)
	response, _ := reader.ReadString('\n')
	response = strings.TrimSpace(strings.ToLower(response))
	if response != "y" && response != "yes" {
		fmt.Println("Cancelled")
		return nil
	}

	if err := users.Delete(user.ID); err != nil {
		return err
	}
	fmt.Printf("User %s deleted\n", addr)
	return nil
}

func runUserResetPassword(cmd *cobra.Command, args []string) error {
	addr := email.Normalize(args[0])

	users, closeDB, err := openUsers()
	if err != nil {
		return err
	}
	defer closeDB()

	user, err := users.GetByEmail(addr)
	if err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("user %s not found", addr)
	}

	password, err := promptPassword()
	if err != nil {
		return err
	}
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := users.UpdatePassword(user.ID, string(hash)); err != nil {
		return err
	}

	fmt.Printf("Password for %s updated\n", addr)
	return nil
}

// promptPassword reads a password twice without echo.
func promptPassword() (string, error) {
	fmt.Print("Enter password: ")
	first, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Println()

	fmt.Print("Confirm password: ")
	second, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Println()

	if string(first) != string(second) {
		return "", fmt.Errorf("passwords do not match")
	}
	return string(first), nil
}
